package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/marcus/rem/internal/serverdb"
)

// authenticateRequest is the JSON body for POST /api/authenticate.
type authenticateRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// refreshRequest is the JSON body for POST /api/auth/refresh and logout.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// tokenResponse is returned by authenticate and refresh.
type tokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// handleAuthenticate handles POST /api/authenticate.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if !decodeBody(w, r, &req, "invalid json body") {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "username and password are required")
		return
	}

	log := logFor(r.Context())
	user, err := s.store.VerifyPassword(req.Username, req.Password)
	if err != nil {
		log.Error("verify password", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to verify credentials")
		return
	}
	if user == nil {
		s.recordAuthEvent(r, req.Username, serverdb.AuthEventLoginFailed)
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid username or password")
		return
	}

	refreshTTL := s.config.RefreshTokenTTL
	if req.RememberMe {
		refreshTTL = s.config.RememberMeTTL
	}
	resp, err := s.issueTokens(user.ID, refreshTTL)
	if err != nil {
		log.Error("issue tokens", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to issue tokens")
		return
	}
	s.recordAuthEvent(r, user.Username, serverdb.AuthEventLogin)
	log.Info("login", "uid", user.ID)
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh handles POST /api/auth/refresh. The refresh token is
// rotated: the one presented stops working.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req, "refreshToken is required") {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "refreshToken is required")
		return
	}

	log := logFor(r.Context())
	user, err := s.store.RotateRefreshToken(req.RefreshToken)
	if err != nil {
		log.Error("rotate refresh token", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to refresh")
		return
	}
	if user == nil {
		s.recordAuthEvent(r, "", serverdb.AuthEventRefreshFailed)
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired refresh token")
		return
	}

	resp, err := s.issueTokens(user.ID, s.config.RefreshTokenTTL)
	if err != nil {
		log.Error("issue tokens", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to issue tokens")
		return
	}
	s.recordAuthEvent(r, user.Username, serverdb.AuthEventRefresh)
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout handles POST /api/auth/logout: revokes the presented refresh
// token and, when authenticated, the access token too.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RefreshToken != "" {
		if err := s.store.RevokeToken(req.RefreshToken); err != nil {
			logFor(r.Context()).Error("revoke refresh token", "err", err)
		}
	}
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		if err := s.store.RevokeToken(tok); err != nil {
			logFor(r.Context()).Error("revoke access token", "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) issueTokens(userID string, refreshTTL time.Duration) (*tokenResponse, error) {
	access, _, err := s.store.IssueToken(userID, serverdb.TokenAccess, s.config.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.store.IssueToken(userID, serverdb.TokenRefresh, refreshTTL)
	if err != nil {
		return nil, err
	}
	return &tokenResponse{
		IDToken:      access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.config.AccessTokenTTL.Seconds()),
	}, nil
}

func (s *Server) recordAuthEvent(r *http.Request, username, kind string) {
	if err := s.store.InsertAuthEvent(username, kind, clientIP(r)); err != nil {
		logFor(r.Context()).Error("record auth event", "err", err)
	}
}
