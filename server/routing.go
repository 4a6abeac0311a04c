package server

import (
	"net/http"
	"strings"
)

// setupHTTPRoutes configures all HTTP handlers on the server mux.
func (s *PushServer) setupHTTPRoutes() {
	s.mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	s.mux.HandleFunc("/notifications/vapid-public-key", s.corsMiddleware(s.HandleVAPIDPublicKey))
	s.mux.HandleFunc("/notifications/subscribe", s.corsMiddleware(s.withAuth(s.HandleSubscribe)))
	s.mux.HandleFunc("/notifications/unsubscribe", s.corsMiddleware(s.withAuth(s.HandleUnsubscribe)))
	s.mux.HandleFunc("/notifications/preferences", s.corsMiddleware(s.withAuth(s.HandlePreferences)))
	s.mux.HandleFunc("/notifications/send", s.corsMiddleware(s.withAuth(s.HandleSend)))
	s.mux.HandleFunc("/ws/agent", s.HandleAgentWebSocket)
}

// corsMiddleware adds CORS headers using the configured allowed origins.
// Same origin validation as the agent WebSocket endpoint.
func (s *PushServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// originAllowed checks an Origin header value against the configured
// allowed origins. Prefix matching, so any port on an allowed host passes.
func (s *PushServer) originAllowed(origin string) bool {
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1")
	}
	for _, a := range allowed {
		if strings.HasPrefix(origin, a) {
			return true
		}
	}
	return false
}
