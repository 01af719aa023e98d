package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common HTTP error classes. *HTTPError matches them
// with errors.Is by status code.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// ErrAuthExpired means the credential refresh failed. The session is over
// until the user logs in again; callers must not retry.
var ErrAuthExpired = errors.New("authentication expired")

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, msg)
}

// Is maps the status code onto the package sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

// NetworkError is a failure to get any response: connection errors and
// per-attempt timeouts.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the attempt ran out of time.
func (e *NetworkError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsTransient reports whether err is worth retrying: network failures,
// per-attempt timeouts and 5xx. No 4xx status is transient.
func IsTransient(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 500
	}
	return false
}

// IsNetworkError reports whether err is a failure to reach the server.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsConflict reports whether the server rejected a write because its copy
// changed.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsPermanent reports whether the server rejected the request in a way a
// retry cannot fix (4xx other than 401 and 409).
func IsPermanent(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	if he.Status < 400 || he.Status >= 500 {
		return false
	}
	switch he.Status {
	case http.StatusUnauthorized, http.StatusConflict:
		return false
	}
	return true
}

// errorBody is the server's error envelope: {"error":{"code":..,"message":..}}.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
