package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Error codes carried in the "code" field of error bodies.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeValidation      = "validation"
	ErrCodeNotFound        = "not_found"
	ErrCodeInternal        = "internal"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeVersionMismatch = "version_mismatch"
	ErrCodeTooLarge        = "too_large"
)

// APIError is the body of every non-2xx response: {"error":{code,message}}.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write response", "status", status, "err", err)
	}
}

// decodeBody decodes the JSON request body into dst. On failure it writes a
// 400 (or 413 past the body limit) and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, invalid string) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, invalid)
	return false
}
