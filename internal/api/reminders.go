package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/serverdb"
)

// Page is the paginated list envelope.
type Page struct {
	Content       []models.RemoteReminder `json:"content"`
	TotalElements int64                   `json:"totalElements"`
	TotalPages    int                     `json:"totalPages"`
	Size          int                     `json:"size"`
	Number        int                     `json:"number"`
}

// validationError marks a rejected request body inside a store callback.
type validationError struct{ err error }

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

// handleListReminders handles GET /api/reminders. ?unpaged=true returns a
// bare array; otherwise ?page (zero-based) and ?size select a page.
func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	q := r.URL.Query()

	if q.Get("unpaged") == "true" {
		all, err := s.store.ListAllReminders(user.UserID)
		if err != nil {
			s.internalError(w, r, "list reminders", err)
			return
		}
		writeJSON(w, http.StatusOK, all)
		return
	}

	page, err := queryInt(q.Get("page"), 0)
	if err != nil || page < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "page must be a non-negative integer")
		return
	}
	size, err := queryInt(q.Get("size"), s.config.DefaultPageSize)
	if err != nil || size <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "size must be a positive integer")
		return
	}
	size = min(size, s.config.MaxPageSize)

	content, total, err := s.store.ListReminders(user.UserID, page, size)
	if err != nil {
		s.internalError(w, r, "list reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, Page{
		Content:       content,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
		Size:          size,
		Number:        page,
	})
}

// handleGetReminder handles GET /api/reminders/{id}.
func (s *Server) handleGetReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rem, err := s.store.GetReminder(getUserFromContext(r.Context()).UserID, id)
	if err != nil {
		s.storeError(w, r, "get reminder", err)
		return
	}
	writeReminder(w, http.StatusOK, rem)
}

// handleCreateReminder handles POST /api/reminders.
func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	var p models.ReminderPatch
	if !decodeBody(w, r, &p, "invalid json body") {
		return
	}

	base := models.RemoteReminder{Priority: models.PriorityMedium}
	next, err := applyPatch(p, base)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	rem, err := s.store.CreateReminder(getUserFromContext(r.Context()).UserID, next)
	if err != nil {
		s.internalError(w, r, "create reminder", err)
		return
	}
	logFor(r.Context()).Debug("reminder created", "id", rem.ID)
	writeReminder(w, http.StatusCreated, rem)
}

// handleUpdateReminder handles PUT /api/reminders/{id}. The body is a
// partial update; an If-Match header makes it conditional on the version.
func (s *Server) handleUpdateReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p models.ReminderPatch
	if !decodeBody(w, r, &p, "invalid json body") {
		return
	}
	if p.IsEmpty() {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "update changes nothing")
		return
	}

	rem, err := s.store.UpdateReminder(getUserFromContext(r.Context()).UserID, id, ifMatch(r),
		func(cur models.RemoteReminder) (models.RemoteReminder, error) {
			next, err := applyPatch(p, cur)
			if err != nil {
				return cur, &validationError{err}
			}
			return next, nil
		})
	if err != nil {
		s.storeError(w, r, "update reminder", err)
		return
	}
	writeReminder(w, http.StatusOK, rem)
}

// handleDeleteReminder handles DELETE /api/reminders/{id}.
func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteReminder(getUserFromContext(r.Context()).UserID, id, ifMatch(r)); err != nil {
		s.storeError(w, r, "delete reminder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// applyPatch merges p into base and validates the result.
func applyPatch(p models.ReminderPatch, base models.RemoteReminder) (models.RemoteReminder, error) {
	if p.Text != nil {
		t := strings.TrimSpace(*p.Text)
		p.Text = &t
	}
	if p.Priority != nil {
		if _, err := models.ParsePriority(string(*p.Priority)); err != nil {
			return base, err
		}
	}
	next := p.ApplyRemote(base)
	check := models.Reminder{
		Text:         next.Text,
		ReminderDate: next.ReminderDate,
		ReminderTime: next.ReminderTime,
		IsAllDay:     next.IsAllDay,
		Priority:     next.Priority,
	}
	if err := check.Validate(); err != nil {
		return base, err
	}
	return next, nil
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, what string, err error) {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, ve.Error())
	case errors.Is(err, serverdb.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "reminder not found")
	case errors.Is(err, serverdb.ErrVersionMismatch):
		writeError(w, http.StatusConflict, ErrCodeVersionMismatch, "reminder was changed by another client")
	default:
		s.internalError(w, r, what, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	logFor(r.Context()).Error(what, "err", err)
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to "+what)
}

func writeReminder(w http.ResponseWriter, status int, rem *models.RemoteReminder) {
	w.Header().Set("ETag", strconv.Quote(rem.Version()))
	writeJSON(w, status, rem)
}

// ifMatch returns the If-Match version with any ETag quoting removed.
func ifMatch(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	v = strings.TrimPrefix(v, "W/")
	if uq, err := strconv.Unquote(v); err == nil {
		return uq
	}
	if v == "*" {
		return ""
	}
	return v
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid reminder id")
		return 0, false
	}
	return id, true
}

func queryInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
