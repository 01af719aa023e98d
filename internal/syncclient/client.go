// Package syncclient is the HTTP transport to the reminders server. It
// injects the bearer token, refreshes it once on 401 and retries transient
// failures with capped exponential backoff.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/retry"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 10 * time.Second

// Config configures a Client. Zero fields take defaults.
type Config struct {
	BaseURL string
	Timeout time.Duration // per attempt
	Retry   *retry.Policy
	HTTP    *http.Client
	Events  *events.Bus[events.Event]
}

// Client is an HTTP client for the reminders server.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	tokens  TokenStore
	timeout time.Duration
	policy  retry.Policy
	events  *events.Bus[events.Event]
	refresh singleflight.Group
}

// New creates a client. tokens may be nil for unauthenticated use.
func New(cfg Config, tokens TokenStore) *Client {
	c := &Client{
		BaseURL: cfg.BaseURL,
		HTTP:    cfg.HTTP,
		tokens:  tokens,
		timeout: cfg.Timeout,
		policy:  retry.TransportPolicy(),
		events:  cfg.Events,
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if cfg.Retry != nil {
		c.policy = *cfg.Retry
	}
	if c.tokens == nil {
		c.tokens = NewMemoryTokens(Tokens{})
	}
	return c
}

// Events returns the lifecycle bus, which may be nil.
func (c *Client) Events() *events.Bus[events.Event] {
	return c.events
}

// RequestSpec describes one logical call.
type RequestSpec struct {
	Method  string
	Path    string
	Body    any
	Header  http.Header
	NoAuth  bool // skip the bearer token and refresh handling
	NoRetry bool // single attempt
}

// Request performs spec and decodes a 2xx body into out (if non-nil).
//
// A 401 triggers one credential refresh and one replay; a failed refresh
// ends the session with ErrAuthExpired. Transient failures are retried per
// the client's policy. Other errors are returned as-is.
func (c *Client) Request(ctx context.Context, spec RequestSpec, out any) error {
	policy := c.policy
	if spec.NoRetry {
		policy.MaxRetries = 0
	}
	refreshed := false

	onRetry := func(n int, delay time.Duration, err error) {
		slog.Debug("syncclient: retry", "method", spec.Method, "path", spec.Path, "attempt", n, "delay", delay, "err", err)
		c.publish(events.Event{Kind: events.APIRetryAttempt, Method: spec.Method, Path: spec.Path,
			Attempt: n, Delay: delay, Err: err})
	}

	err := retry.Do(ctx, policy, IsTransient, onRetry, func(ctx context.Context, attempt int) error {
		token, err := c.send(ctx, spec, out)
		if spec.NoAuth || !errors.Is(err, ErrUnauthorized) {
			return err
		}
		if refreshed {
			return c.expire(err)
		}
		if rerr := c.refreshShared(ctx, token); rerr != nil {
			return rerr
		}
		refreshed = true
		if _, err = c.send(ctx, spec, out); errors.Is(err, ErrUnauthorized) {
			return c.expire(err)
		}
		return err
	})

	if err != nil && IsTransient(err) && ctx.Err() == nil && policy.MaxRetries > 0 {
		c.publish(events.Event{Kind: events.APIMaxRetries, Method: spec.Method, Path: spec.Path,
			Attempt: policy.MaxRetries, Err: err})
	}
	return err
}

// send performs a single attempt and returns the bearer token it used.
func (c *Client) send(ctx context.Context, spec RequestSpec, out any) (string, error) {
	var bodyReader io.Reader
	if spec.Body != nil {
		data, err := json.Marshal(spec.Body)
		if err != nil {
			return "", fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, spec.Method, c.BaseURL+spec.Path, bodyReader)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, vs := range spec.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if spec.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	var token string
	if !spec.NoAuth {
		t, err := c.tokens.Load()
		if err != nil {
			return "", fmt.Errorf("load credentials: %w", err)
		}
		token = t.AccessToken
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return token, ctx.Err()
		}
		return token, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return token, ctx.Err()
		}
		return token, &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		he := &HTTPError{Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Code != "" {
			he.Code, he.Message = eb.Error.Code, eb.Error.Message
		} else if len(respBody) > 0 && len(respBody) < 512 {
			he.Message = string(bytes.TrimSpace(respBody))
		}
		return token, he
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return token, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return token, nil
}

func (c *Client) publish(e events.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	c.events.Publish(e)
}
