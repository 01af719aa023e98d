package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/marcus/rem/internal/events"
)

// Credentials are the login form fields.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// Tokens is the persisted session.
type Tokens struct {
	AccessToken  string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Username     string `json:"username,omitempty"`
}

// TokenStore persists the session between runs.
type TokenStore interface {
	Load() (Tokens, error)
	Save(Tokens) error
	Clear() error
}

// MemoryTokens is a TokenStore that lives only in memory.
type MemoryTokens struct {
	mu sync.Mutex
	t  Tokens
}

// NewMemoryTokens returns a store seeded with t.
func NewMemoryTokens(t Tokens) *MemoryTokens {
	return &MemoryTokens{t: t}
}

func (m *MemoryTokens) Load() (Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t, nil
}

func (m *MemoryTokens) Save(t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
	return nil
}

func (m *MemoryTokens) Clear() error {
	return m.Save(Tokens{})
}

type authResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Login authenticates with username and password and stores the session.
func (c *Client) Login(ctx context.Context, creds Credentials) (Tokens, error) {
	var resp authResponse
	err := c.Request(ctx, RequestSpec{
		Method: http.MethodPost,
		Path:   "/api/authenticate",
		Body:   creds,
		NoAuth: true,
	}, &resp)
	if err != nil {
		return Tokens{}, err
	}
	if resp.IDToken == "" {
		return Tokens{}, errors.New("login response has no token")
	}
	t := Tokens{AccessToken: resp.IDToken, RefreshToken: resp.RefreshToken, Username: creds.Username}
	if err := c.tokens.Save(t); err != nil {
		return Tokens{}, fmt.Errorf("save credentials: %w", err)
	}
	return t, nil
}

// Logout forgets the stored session.
func (c *Client) Logout() error {
	return c.tokens.Clear()
}

// RefreshCredentials exchanges the refresh token for a new access token.
// Failure ends the session with ErrAuthExpired.
func (c *Client) RefreshCredentials(ctx context.Context) error {
	return c.refreshShared(ctx, "")
}

// refreshShared runs at most one refresh at a time. Callers that saw a 401
// with a token that has since been replaced skip the refresh.
func (c *Client) refreshShared(ctx context.Context, stale string) error {
	if stale != "" {
		if cur, err := c.tokens.Load(); err == nil && cur.AccessToken != "" && cur.AccessToken != stale {
			return nil
		}
	}
	ch := c.refresh.DoChan("refresh", func() (any, error) {
		// Shared by every waiter, so no single caller may cancel it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return nil, c.doRefresh(rctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doRefresh ends the session only when the server refused the refresh
// token. Timeouts and network failures leave the stored tokens alone.
func (c *Client) doRefresh(ctx context.Context) error {
	cur, err := c.tokens.Load()
	if err != nil {
		return c.expire(fmt.Errorf("load credentials: %w", err))
	}
	if cur.RefreshToken == "" {
		return c.expire(errors.New("no refresh token"))
	}

	var resp authResponse
	_, err = c.send(ctx, RequestSpec{
		Method: http.MethodPost,
		Path:   "/api/auth/refresh",
		Body:   map[string]string{"refreshToken": cur.RefreshToken},
		NoAuth: true,
	}, &resp)
	if err == nil && resp.IDToken == "" {
		err = errors.New("refresh response has no token")
	}
	if err != nil && (ctx.Err() != nil || IsTransient(err)) {
		return fmt.Errorf("refresh credentials: %w", err)
	}
	if err != nil {
		return c.expire(err)
	}

	cur.AccessToken = resp.IDToken
	if resp.RefreshToken != "" {
		cur.RefreshToken = resp.RefreshToken
	}
	if err := c.tokens.Save(cur); err != nil {
		return c.expire(fmt.Errorf("save credentials: %w", err))
	}
	slog.Debug("syncclient: credentials refreshed")
	c.publish(events.Event{Kind: events.AuthRefreshed})
	return nil
}

// expire clears the session and reports ErrAuthExpired.
func (c *Client) expire(cause error) error {
	if err := c.tokens.Clear(); err != nil {
		slog.Warn("syncclient: clear credentials", "err", err)
	}
	c.publish(events.Event{Kind: events.AuthExpired, Err: cause})
	return fmt.Errorf("%w: %v", ErrAuthExpired, cause)
}
