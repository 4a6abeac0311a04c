package server

import (
	"net/http"
	"strings"

	"github.com/peergrade/pushsync/errors"
)

// authedHandler receives the user resolved from the bearer token.
type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// withAuth resolves the bearer token to a user and rejects requests that
// lack a valid credential.
func (s *PushServer) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		userID, err := s.tokens.Lookup(r.Context(), token)
		if err != nil {
			if errors.Is(err, errors.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			s.logger.Errorw("Token lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		next(w, r, userID)
	}
}

// bearerToken extracts the token from the Authorization header, falling
// back to the access_token query parameter for WebSocket dials where
// custom headers are awkward to set.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}
