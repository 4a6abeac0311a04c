package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialAgent(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/agent?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAgentWebSocketRequiresToken(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/agent"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAgentReceivesPushPayload(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn := dialAgent(t, ts, testToken)

	// Wait for the hub to register the agent before delivering.
	require.Eventually(t, func() bool { return s.AgentCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK,
		doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken).Code)

	sent, err := s.Deliver(context.Background(), testUser, &PushPayload{
		Title: "Review received",
		Body:  "A reviewer replied to your submission",
		URL:   "https://app.example.com/reviews/42",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope pushEnvelope
	require.NoError(t, conn.ReadJSON(&envelope))
	assert.Equal(t, "push", envelope.Type)
	require.NotNil(t, envelope.Payload)
	assert.Equal(t, "Review received", envelope.Payload.Title)
	assert.Equal(t, "https://app.example.com/reviews/42", envelope.Payload.URL)
}

func TestAgentRevokedMessageDeletesRecord(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	require.Equal(t, http.StatusOK,
		doRequest(t, s, http.MethodPost, "/notifications/subscribe", subscribeBody("https://push.example.com/a"), testToken).Code)

	conn := dialAgent(t, ts, testToken)
	require.Eventually(t, func() bool { return s.AgentCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(agentMessage{Type: "revoked", Endpoint: "https://push.example.com/a"}))

	require.Eventually(t, func() bool {
		count, err := s.subscriptions.CountByUser(context.Background(), testUser)
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopWithConnectedAgentsCompletesPromptly(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	dialAgent(t, ts, testToken)
	dialAgent(t, ts, testToken)
	require.Eventually(t, func() bool { return s.AgentCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	// Stop cancels the hub while the agents' read pumps are still closing
	// down; their unregister sends must not strand the goroutines until
	// the shutdown timeout.
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not complete with connected agents")
	}
}

func TestDeliverWithNoConnectedAgents(t *testing.T) {
	s := newTestServer(t)

	sent, err := s.Deliver(context.Background(), testUser, &PushPayload{Title: "hello"})
	require.NoError(t, err)
	assert.Zero(t, sent)
}
