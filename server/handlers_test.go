package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peergrade/pushsync/config"
	qt "github.com/peergrade/pushsync/internal/testing"
	"github.com/peergrade/pushsync/prefs"
	"github.com/peergrade/pushsync/vapid"
)

const testToken = "test-token-abc"
const testUser = "user-1"

func newTestServer(t *testing.T) *PushServer {
	t.Helper()

	conn := qt.CreateTestDB(t)
	cfg := &config.Config{}
	cfg.Server.KeyRequestsPerSecond = 1000
	cfg.Server.KeyRequestsBurst = 1000

	s, err := NewPushServer(conn, cfg, nil)
	require.NoError(t, err)

	err = s.tokens.Insert(context.Background(), testToken, testUser, time.Now().Add(time.Hour))
	require.NoError(t, err)

	go s.Run()
	t.Cleanup(func() { s.cancel() })

	return s
}

func doRequest(t *testing.T, s *PushServer, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func subscribeBody(endpoint string) map[string]string {
	return map[string]string{
		"endpoint":   endpoint,
		"p256dh_key": "p256dh-material",
		"auth_key":   "auth-material",
		"user_agent": "test-agent/1.0",
	}
}

func TestVAPIDPublicKey(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/notifications/vapid-public-key", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["publicKey"])

	raw, err := vapid.DecodeKey(body["publicKey"])
	require.NoError(t, err)
	assert.NoError(t, vapid.ValidatePublicKey(raw))
}

func TestVAPIDPublicKeyRateLimit(t *testing.T) {
	conn := qt.CreateTestDB(t)
	cfg := &config.Config{}
	cfg.Server.KeyRequestsPerSecond = 1
	cfg.Server.KeyRequestsBurst = 1

	s, err := NewPushServer(conn, cfg, nil)
	require.NoError(t, err)

	first := doRequest(t, s, http.MethodGet, "/notifications/vapid-public-key", nil, "")
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(t, s, http.MethodGet, "/notifications/vapid-public-key", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestSubscribeRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), "bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubscribeCreatesRecordAndDefaults(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	subs, err := s.subscriptions.ListByUser(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example.com/a", subs[0].Endpoint)

	prefsRec, err := s.preferences.Get(context.Background(), testUser)
	require.NoError(t, err)
	for _, c := range prefs.Categories {
		assert.True(t, prefsRec.Enabled(c))
	}
}

func TestSubscribeUpsertsOnRepeat(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	count, err := s.subscriptions.CountByUser(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "repeated subscribes with the same endpoint must not duplicate")
}

func TestSubscribeDoesNotResetExplicitPreferences(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	patch := doRequest(t, s, http.MethodPatch, "/notifications/preferences", map[string]bool{"push_deadline_reminder": false}, testToken)
	require.Equal(t, http.StatusOK, patch.Code)

	rec = doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	prefsRec, err := s.preferences.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, prefsRec.Enabled(prefs.DeadlineReminder), "re-subscribe must not reset an explicit opt-out")
}

func TestSubscribeRejectsBadPayloads(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/notifications/subscribe", map[string]string{"endpoint": ""}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/notifications/subscribe", map[string]string{"endpoint": "not a url", "p256dh_key": "x", "auth_key": "y"}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/notifications/subscribe", map[string]string{"endpoint": "https://push.example.com/a"}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing keys rejected")
}

func TestUnsubscribeMissingRecordIsOK(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodDelete, "/notifications/unsubscribe?endpoint=https%3A%2F%2Fpush.example.com%2Fnone", nil, testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnsubscribeDeletesRecord(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK,
		doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken).Code)

	rec := doRequest(t, s, http.MethodDelete, "/notifications/unsubscribe?endpoint=https%3A%2F%2Fpush.example.com%2Fa", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	count, err := s.subscriptions.CountByUser(context.Background(), testUser)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPreferencesNotFoundBeforeSubscribe(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/notifications/preferences", nil, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreferencesPatch(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK,
		doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken).Code)

	rec := doRequest(t, s, http.MethodPatch, "/notifications/preferences", map[string]bool{"push_meta_review": false}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body prefs.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Enabled(prefs.MetaReview))
	assert.True(t, body.Enabled(prefs.ReviewReceived))
}

func TestPreferencesPatchRejectsUnknownKeys(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK,
		doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken).Code)

	rec := doRequest(t, s, http.MethodPatch, "/notifications/preferences", map[string]bool{"push_everything": true}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPatch, "/notifications/preferences", map[string]bool{}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty patch rejected")
}

func TestSendWithoutSubscription(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/notifications/send", map[string]string{"title": "hi"}, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendSuppressedByPreference(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK,
		doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken).Code)
	require.Equal(t, http.StatusOK,
		doRequest(t, s, http.MethodPatch, "/notifications/preferences", map[string]bool{"push_deadline_reminder": false}, testToken).Code)

	rec := doRequest(t, s, http.MethodPost, "/notifications/send", map[string]string{
		"title":    "Deadline soon",
		"category": "deadline-reminder",
	}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["suppressed"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
