package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/marcus/rem/internal/models"
)

func strPtr(s string) *string { return &s }

func createReminder(t *testing.T, h *TestHarness, token, text string) models.RemoteReminder {
	t.Helper()
	resp := h.Do("POST", "/api/reminders", token, models.ReminderPatch{
		Text:         strPtr(text),
		ReminderDate: strPtr("2026-03-05"),
	})
	AssertStatus(t, resp, http.StatusCreated)
	return ReadJSON[models.RemoteReminder](t, resp)
}

func TestHealthz(t *testing.T) {
	h := newTestHarness(t)
	resp := h.Do("GET", "/healthz", "", nil)
	AssertStatus(t, resp, http.StatusOK)
	body := ReadJSON[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("status: %v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newTestHarness(t)
	resp := h.Do("GET", "/healthz", "", nil, "X-Request-ID", "trace-123")
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "trace-123" {
		t.Fatalf("X-Request-ID: got %q", got)
	}
}

func TestCreateReminder(t *testing.T) {
	h := newTestHarness(t)
	tok := h.NewSession("alice")

	resp := h.Do("POST", "/api/reminders", tok, models.ReminderPatch{
		Text:         strPtr("  buy milk  "),
		ReminderDate: strPtr("2026-03-05"),
		ReminderTime: strPtr("09:30"),
	})
	AssertStatus(t, resp, http.StatusCreated)
	etag := resp.Header.Get("ETag")
	r := ReadJSON[models.RemoteReminder](t, resp)

	if r.ID == 0 || r.Text != "buy milk" || r.Priority != models.PriorityMedium {
		t.Fatalf("created: %+v", r)
	}
	if etag != strconv.Quote(r.Version()) {
		t.Fatalf("ETag %s, version %s", etag, r.Version())
	}

	resp = h.Do("GET", fmt.Sprintf("/api/reminders/%d", r.ID), tok, nil)
	AssertStatus(t, resp, http.StatusOK)
	got := ReadJSON[models.RemoteReminder](t, resp)
	if got.Version() != r.Version() || got.ReminderTime != "09:30" {
		t.Fatalf("get: %+v", got)
	}
}

func TestCreateReminderValidation(t *testing.T) {
	h := newTestHarness(t)
	tok := h.NewSession("alice")

	bad := []models.ReminderPatch{
		{Text: strPtr("   ")},
		{Text: strPtr(strings.Repeat("x", models.MaxTextLength+1))},
		{Text: strPtr("x"), ReminderDate: strPtr("03/05/2026")},
		{Text: strPtr("x"), ReminderTime: strPtr("25:00")},
	}
	for i, p := range bad {
		resp := h.Do("POST", "/api/reminders", tok, p)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := h.Do("POST", "/api/reminders", tok, map[string]string{"text": "x", "priority": "URGENT"})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeValidation)
}

func TestListRemindersPaged(t *testing.T) {
	h := newTestHarness(t)
	tok := h.NewSession("alice")
	for i := 0; i < 5; i++ {
		createReminder(t, h, tok, fmt.Sprintf("r%d", i))
	}

	resp := h.Do("GET", "/api/reminders?page=1&size=2", tok, nil)
	AssertStatus(t, resp, http.StatusOK)
	page := ReadJSON[Page](t, resp)
	if page.TotalElements != 5 || page.TotalPages != 3 || page.Number != 1 || page.Size != 2 {
		t.Fatalf("envelope: %+v", page)
	}
	if len(page.Content) != 2 || page.Content[0].Text != "r2" {
		t.Fatalf("content: %+v", page.Content)
	}

	resp = h.Do("GET", "/api/reminders?unpaged=true", tok, nil)
	AssertStatus(t, resp, http.StatusOK)
	all := ReadJSON[[]models.RemoteReminder](t, resp)
	if len(all) != 5 {
		t.Fatalf("unpaged: got %d", len(all))
	}

	resp = h.Do("GET", "/api/reminders?size=0", tok, nil)
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestListRemindersCapsPageSize(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.MaxPageSize = 3 })
	tok := h.NewSession("alice")
	for i := 0; i < 4; i++ {
		createReminder(t, h, tok, "x")
	}
	resp := h.Do("GET", "/api/reminders?size=100", tok, nil)
	page := ReadJSON[Page](t, resp)
	if page.Size != 3 || len(page.Content) != 3 || page.TotalPages != 2 {
		t.Fatalf("capped page: %+v", page)
	}
}

func TestListEmptyIsArray(t *testing.T) {
	h := newTestHarness(t)
	tok := h.NewSession("alice")
	resp := h.Do("GET", "/api/reminders?unpaged=true", tok, nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("empty unpaged body: %s", body)
	}
}

func TestUpdateReminderIfMatch(t *testing.T) {
	h := newTestHarness(t)
	tok := h.NewSession("alice")
	r := createReminder(t, h, tok, "draft")
	path := fmt.Sprintf("/api/reminders/%d", r.ID)
	done := true

	resp := h.Do("PUT", path, tok, models.ReminderPatch{Completed: &done}, "If-Match", r.Version())
	AssertStatus(t, resp, http.StatusOK)
	up := ReadJSON[models.RemoteReminder](t, resp)
	if !up.Completed || up.Text != "draft" || up.Version() == r.Version() {
		t.Fatalf("update: %+v", up)
	}

	// Stale version
	resp = h.Do("PUT", path, tok, models.ReminderPatch{Text: strPtr("lost")}, "If-Match", r.Version())
	AssertErrorResponse(t, resp, http.StatusConflict, ErrCodeVersionMismatch)

	// Quoted ETag form is accepted
	resp = h.Do("PUT", path, tok, models.ReminderPatch{Text: strPtr("final")}, "If-Match", strconv.Quote(up.Version()))
	AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// No If-Match: last write wins
	resp = h.Do("PUT", path, tok, models.ReminderPatch{Text: strPtr("forced")})
	AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = h.Do("PUT", path, tok, models.ReminderPatch{})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeValidation)

	resp = h.Do("PUT", path, tok, models.ReminderPatch{Text: strPtr("")})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeValidation)

	resp = h.Do("PUT", "/api/reminders/9999", tok, models.ReminderPatch{Text: strPtr("x")})
	AssertErrorResponse(t, resp, http.StatusNotFound, ErrCodeNotFound)

	resp = h.Do("PUT", "/api/reminders/abc", tok, models.ReminderPatch{Text: strPtr("x")})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestDeleteReminder(t *testing.T) {
	h := newTestHarness(t)
	tok := h.NewSession("alice")
	r := createReminder(t, h, tok, "gone")
	path := fmt.Sprintf("/api/reminders/%d", r.ID)

	resp := h.Do("DELETE", path, tok, nil, "If-Match", "2020-01-01T00:00:00Z")
	AssertErrorResponse(t, resp, http.StatusConflict, ErrCodeVersionMismatch)

	resp = h.Do("DELETE", path, tok, nil, "If-Match", r.Version())
	AssertStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = h.Do("GET", path, tok, nil)
	AssertErrorResponse(t, resp, http.StatusNotFound, ErrCodeNotFound)
	resp = h.Do("DELETE", path, tok, nil)
	AssertErrorResponse(t, resp, http.StatusNotFound, ErrCodeNotFound)
}

func TestRemindersAreIsolatedPerUser(t *testing.T) {
	h := newTestHarness(t)
	alice := h.NewSession("alice")
	bob := h.NewSession("bob")
	r := createReminder(t, h, alice, "secret")

	resp := h.Do("GET", fmt.Sprintf("/api/reminders/%d", r.ID), bob, nil)
	AssertErrorResponse(t, resp, http.StatusNotFound, ErrCodeNotFound)

	resp = h.Do("GET", "/api/reminders?unpaged=true", bob, nil)
	if all := ReadJSON[[]models.RemoteReminder](t, resp); len(all) != 0 {
		t.Fatalf("bob sees %d reminders", len(all))
	}
}

func TestAPIRateLimit(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.RateLimitAPI = 3 })
	tok := h.NewSession("alice")

	for i := 0; i < 3; i++ {
		resp := h.Do("GET", "/api/reminders", tok, nil)
		AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
	resp := h.Do("GET", "/api/reminders", tok, nil)
	AssertErrorResponse(t, resp, http.StatusTooManyRequests, ErrCodeRateLimited)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHarness(t)
	resp := h.Do("GET", "/healthz", "", nil)
	resp.Body.Close()

	resp = h.Do("GET", "/metrics", "", nil)
	AssertStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `rem_http_requests_total{code="200",method="GET",route="GET /healthz"}`) {
		t.Fatalf("metrics output missing healthz counter:\n%s", body)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	h := newTestHarness(t)
	tok := h.NewSession("alice")

	resp := h.Do("POST", "/api/reminders", tok, models.ReminderPatch{Text: strPtr(strings.Repeat("a", 2<<20))})
	AssertErrorResponse(t, resp, http.StatusRequestEntityTooLarge, ErrCodeTooLarge)
}
