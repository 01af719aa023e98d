package api

import (
	"net/http"

	"github.com/marcus/rem/internal/metrics"
)

// instrument records request count, latency and in-flight gauge for one
// route. The route label is the mux pattern, so ids never become labels.
func instrument(m *metrics.HTTP, pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := m.Begin()
		sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sc, r)
		done(r.Method, pattern, sc.code)
	})
}

// handleMetrics exposes the server registry in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler(s.registry).ServeHTTP(w, r)
}
