package httpserver

import (
	"net/http"
	"strings"

	"github.com/webcall/signaling-relay/internal/origin"
)

// originMiddleware enforces the browser-facing origin policy on every route,
// including the WebSocket upgrade, which does its own CheckOrigin no-op and
// relies on this layer.
func (s *Server) originMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			originHeader := strings.TrimSpace(r.Header.Get("Origin"))
			if originHeader == "" {
				// Non-browser clients (curl, server-to-server) send no Origin.
				next.ServeHTTP(w, r)
				return
			}

			normalized, originHost, ok := origin.Normalize(originHeader)
			if !ok || !origin.Allowed(normalized, originHost, r.Host, s.cfg.AllowedOrigins) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			// Same-origin requests don't need CORS headers, but sending them is
			// harmless and lets the frontend run on a separate origin in dev.
			w.Header().Set("Access-Control-Allow-Origin", normalized)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
				}
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
