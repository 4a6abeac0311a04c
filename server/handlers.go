package server

// HTTP handler methods for PushServer:
// - VAPID public key fetch (HandleVAPIDPublicKey)
// - Subscription registration and removal (HandleSubscribe, HandleUnsubscribe)
// - Preference read and partial update (HandlePreferences)
// - Push delivery (HandleSend)
// - Health checks (HandleHealth)

import (
	"io"
	"net/http"
	"net/url"

	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/prefs"
	"github.com/peergrade/pushsync/store"
	"github.com/peergrade/pushsync/version"
)

// HandleVAPIDPublicKey serves the server's public key. Unauthenticated but
// rate limited; the key is public material, the limiter just blunts
// scraping.
func (s *PushServer) HandleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	if !s.keyLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	if s.vapidPublicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "No VAPID key configured")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.vapidPublicKey})
}

type subscribeRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
	UserAgent string `json:"user_agent"`
}

// HandleSubscribe registers a platform subscription for the authenticated
// user. Upserts on (user, endpoint): clients repair lost server records by
// re-sending the same subscription, and that must never accumulate
// duplicates. A preference record with all categories enabled is created
// on first subscribe; later subscribes leave explicit choices untouched.
func (s *PushServer) HandleSubscribe(w http.ResponseWriter, r *http.Request, userID string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req subscribeRequest
	if readJSON(w, r, &req) != nil {
		return
	}

	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if u, err := url.Parse(req.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		writeError(w, http.StatusBadRequest, "endpoint is not a valid URL")
		return
	}
	if req.P256dhKey == "" || req.AuthKey == "" {
		writeError(w, http.StatusBadRequest, "p256dh_key and auth_key are required")
		return
	}

	rec := &store.SubscriptionRecord{
		UserID:    userID,
		Endpoint:  req.Endpoint,
		P256dhKey: req.P256dhKey,
		AuthKey:   req.AuthKey,
	}
	if req.UserAgent != "" {
		rec.UserAgent = &req.UserAgent
	}

	if err := s.subscriptions.Upsert(r.Context(), rec); err != nil {
		s.logger.Errorw("Subscription upsert failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store subscription")
		return
	}

	if _, err := s.preferences.EnsureDefaults(r.Context(), userID); err != nil {
		s.logger.Errorw("Preference initialization failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to initialize preferences")
		return
	}

	s.logger.Infow("Subscription registered",
		"user_id", userID,
		"endpoint", req.Endpoint,
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

// HandleUnsubscribe deletes the record for ?endpoint=<url-encoded>.
// Returns 200 even when no matching record exists: the client treats
// "already gone" as converged, and so does the server.
func (s *PushServer) HandleUnsubscribe(w http.ResponseWriter, r *http.Request, userID string) {
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint query parameter is required")
		return
	}

	if err := s.subscriptions.Delete(r.Context(), userID, endpoint); err != nil {
		s.logger.Errorw("Subscription delete failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete subscription")
		return
	}

	s.logger.Infow("Subscription removed",
		"user_id", userID,
		"endpoint", endpoint,
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

// HandlePreferences serves GET (full record, 404 when none exists) and
// PATCH (partial update, unknown keys rejected).
func (s *PushServer) HandlePreferences(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		rec, err := s.preferences.Get(r.Context(), userID)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				writeError(w, http.StatusNotFound, "No preference record")
				return
			}
			s.logger.Errorw("Preference read failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to read preferences")
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodPatch:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4096))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read request body")
			return
		}

		patch, err := prefs.DecodePatch(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if patch.IsEmpty() {
			writeError(w, http.StatusBadRequest, "Patch must set at least one category")
			return
		}

		rec, err := s.preferences.Patch(r.Context(), userID, patch)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				writeError(w, http.StatusNotFound, "No preference record to patch")
				return
			}
			s.logger.Errorw("Preference patch failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to update preferences")
			return
		}

		s.logger.Infow("Preferences updated", "user_id", userID)
		writeJSON(w, http.StatusOK, rec)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type sendRequest struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

// HandleSend delivers a push payload to the target user's connected
// agents, honoring the per-category preference. A delivery suppressed by
// preferences reports suppressed=true rather than an error.
func (s *PushServer) HandleSend(w http.ResponseWriter, r *http.Request, senderID string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req sendRequest
	if readJSON(w, r, &req) != nil {
		return
	}

	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	targetID := req.UserID
	if targetID == "" {
		targetID = senderID
	}

	category := prefs.Category(req.Category)
	if req.Category != "" && !prefs.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown notification category")
		return
	}

	count, err := s.subscriptions.CountByUser(r.Context(), targetID)
	if err != nil {
		s.logger.Errorw("Subscription count failed", "user_id", targetID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to check subscriptions")
		return
	}
	if count == 0 {
		writeError(w, http.StatusNotFound, "User has no push subscription")
		return
	}

	if req.Category != "" {
		rec, err := s.preferences.Get(r.Context(), targetID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			s.logger.Errorw("Preference read failed", "user_id", targetID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to read preferences")
			return
		}
		if rec != nil && !rec.Enabled(category) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":     "suppressed",
				"suppressed": true,
				"delivered":  0,
			})
			return
		}
	}

	sent, err := s.Deliver(r.Context(), targetID, &PushPayload{
		Title:    req.Title,
		Body:     req.Body,
		URL:      req.URL,
		Category: req.Category,
	})
	if err != nil {
		s.logger.Errorw("Delivery failed", "user_id", targetID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to deliver payload")
		return
	}

	s.logger.Infow("Push delivered",
		"user_id", targetID,
		"agents", sent,
		"category", req.Category,
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "sent",
		"delivered": sent,
	})
}

// HandleHealth serves the health check endpoint with version info.
func (s *PushServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()

	health := map[string]interface{}{
		"status":     "ok",
		"version":    versionInfo.Version,
		"commit":     versionInfo.CommitHash,
		"build_time": versionInfo.BuildTime,
		"agents":     s.AgentCount(),
	}

	writeJSON(w, http.StatusOK, health)
}
