package api

import (
	"net/http"
	"slices"
	"strconv"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, If-Match"
	corsAllowMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	corsExposeHeaders = "ETag, X-Request-ID"
	corsMaxAge        = 600 // seconds browsers may cache a preflight
)

// corsMiddleware answers browser clients from CORSAllowedOrigins ("*" allows
// any origin). Without configured origins, or for other origins, requests
// pass through without CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !s.originAllowed(origin) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	allowed := s.config.CORSAllowedOrigins
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}
