package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/origin"
)

// originPolicy rejects browser requests from origins that may not use the
// server and sets CORS headers for the ones that may.
func (s *Server) originPolicy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		normalizedOrigin, ok := origin.Check(r, s.cfg.AllowedOrigins)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if normalizedOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
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
