// Package api is the reference HTTP server for rem clients: password login
// with rotating refresh tokens and per-user reminders CRUD with optimistic
// version checks.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/rem/internal/metrics"
	"github.com/marcus/rem/internal/serverdb"
	"github.com/prometheus/client_golang/prometheus"
)

// Server is the HTTP API server for rem-server.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	registry    *prometheus.Registry
	metrics     *metrics.HTTP
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("server store is required")
	}
	def := DefaultConfig()
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = def.AccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = def.RefreshTokenTTL
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = def.RememberMeTTL
	}

	reg := metrics.NewRegistry()
	s := &Server{
		config:      cfg,
		store:       store,
		registry:    reg,
		metrics:     metrics.NewHTTP(reg),
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking) and returns the
// bound address.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.rateLimiter.Run(ctx)

	// Periodically drop expired tokens
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cleanup panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.PurgeExpiredTokens()
				if err != nil {
					slog.Error("purge expired tokens", "err", err)
				} else if n > 0 {
					slog.Info("purged expired tokens", "count", n)
				}
			}
		}
	}()

	return ln.Addr(), nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}

// Handler builds the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(s.metrics, pattern, h))
	}

	// Health & metrics
	handle("GET /healthz", s.handleHealth)
	handle("GET /metrics", s.handleMetrics)

	// Auth (public)
	handle("POST /api/authenticate", s.handleAuthenticate)
	handle("POST /api/auth/refresh", s.handleRefresh)
	handle("POST /api/auth/logout", s.handleLogout)

	// Reminders
	api := func(h http.HandlerFunc) http.HandlerFunc {
		return s.requireAuth(s.withRateLimit(h, s.config.RateLimitAPI))
	}
	handle("GET /api/reminders", api(s.handleListReminders))
	handle("POST /api/reminders", api(s.handleCreateReminder))
	handle("GET /api/reminders/{id}", api(s.handleGetReminder))
	handle("PUT /api/reminders/{id}", api(s.handleUpdateReminder))
	handle("DELETE /api/reminders/{id}", api(s.handleDeleteReminder))

	return chain(mux,
		recoveryMiddleware,
		requestContextMiddleware,
		accessLogMiddleware,
		s.corsMiddleware,
		maxBytesMiddleware(1<<20),
		authRateLimitMiddleware(s.rateLimiter, s.config.RateLimitAuth),
	)
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
