package api

import (
	"net/http"
	"testing"

	"github.com/marcus/rem/internal/serverdb"
)

func TestAuthenticate(t *testing.T) {
	h := newTestHarness(t)
	h.CreateUser("alice")

	tokens := h.Login("Alice")
	if tokens.IDToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", tokens)
	}
	if tokens.ExpiresIn != 3600 {
		t.Errorf("expires_in: got %d, want 3600", tokens.ExpiresIn)
	}

	resp := h.Do("GET", "/api/reminders", tokens.IDToken, nil)
	AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	events, _ := h.Store.ListAuthEvents("alice", 10)
	if len(events) != 1 || events[0].EventType != serverdb.AuthEventLogin {
		t.Fatalf("auth events: %+v", events)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	h := newTestHarness(t)
	h.CreateUser("alice")

	resp := h.Do("POST", "/api/authenticate", "", authenticateRequest{Username: "alice", Password: "nope nope"})
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)

	resp = h.Do("POST", "/api/authenticate", "", authenticateRequest{Username: "ghost", Password: testPassword})
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)

	resp = h.Do("POST", "/api/authenticate", "", authenticateRequest{Username: "alice"})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)

	events, _ := h.Store.ListAuthEvents("", 10)
	if len(events) != 2 {
		t.Fatalf("expected 2 failed login events, got %d", len(events))
	}
}

func TestRequireAuth(t *testing.T) {
	h := newTestHarness(t)

	resp := h.Do("GET", "/api/reminders", "", nil)
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)

	resp = h.Do("GET", "/api/reminders", "rem_at_bogus", nil)
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)

	resp = h.Do("GET", "/api/reminders", "", nil, "Authorization", "Basic abc")
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestRefreshRotatesTokens(t *testing.T) {
	h := newTestHarness(t)
	h.CreateUser("alice")
	first := h.Login("alice")

	resp := h.Do("POST", "/api/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	AssertStatus(t, resp, http.StatusOK)
	second := ReadJSON[tokenResponse](t, resp)
	if second.IDToken == "" || second.IDToken == first.IDToken || second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh did not issue new tokens: %+v", second)
	}

	// The consumed refresh token is dead.
	resp = h.Do("POST", "/api/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)

	// An access token is not a refresh token.
	resp = h.Do("POST", "/api/auth/refresh", "", refreshRequest{RefreshToken: second.IDToken})
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)

	resp = h.Do("POST", "/api/auth/refresh", "", map[string]string{})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestLogoutRevokesTokens(t *testing.T) {
	h := newTestHarness(t)
	h.CreateUser("alice")
	tokens := h.Login("alice")

	resp := h.Do("POST", "/api/auth/logout", tokens.IDToken, refreshRequest{RefreshToken: tokens.RefreshToken})
	AssertStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = h.Do("GET", "/api/reminders", tokens.IDToken, nil)
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)
	resp = h.Do("POST", "/api/auth/refresh", "", refreshRequest{RefreshToken: tokens.RefreshToken})
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestAuthRateLimit(t *testing.T) {
	h := newTestHarness(t, func(c *Config) { c.RateLimitAuth = 2 })

	for i := 0; i < 2; i++ {
		resp := h.Do("POST", "/api/authenticate", "", authenticateRequest{Username: "x", Password: "y"})
		resp.Body.Close()
	}
	resp := h.Do("POST", "/api/authenticate", "", authenticateRequest{Username: "x", Password: "y"})
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	AssertErrorResponse(t, resp, http.StatusTooManyRequests, ErrCodeRateLimited)

	// Health checks are not auth endpoints.
	resp = h.Do("GET", "/healthz", "", nil)
	AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}
