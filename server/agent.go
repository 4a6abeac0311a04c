package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// agentMessage is the envelope for messages from a connected agent.
type agentMessage struct {
	Type     string `json:"type"`
	Endpoint string `json:"endpoint,omitempty"`
}

// pushEnvelope wraps a payload sent to an agent.
type pushEnvelope struct {
	Type    string       `json:"type"`
	Payload *PushPayload `json:"payload"`
}

// AgentClient represents one connected background agent.
type AgentClient struct {
	server    *PushServer
	conn      *websocket.Conn
	send      chan *PushPayload
	id        string
	userID    string
	closeOnce sync.Once
}

// upgrader validates the WebSocket origin against the configured allowed
// origins. Requests with no Origin header (non-browser agents, tests) are
// allowed.
func (s *PushServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
}

// HandleAgentWebSocket authenticates and upgrades an agent connection,
// then starts its read and write pumps.
func (s *PushServer) HandleAgentWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Missing bearer token")
		return
	}
	userID, err := s.tokens.Lookup(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		return
	}

	agent := &AgentClient{
		server: s,
		conn:   conn,
		send:   make(chan *PushPayload, 64),
		id:     fmt.Sprintf("%s_%d", r.RemoteAddr, time.Now().UnixNano()),
		userID: userID,
	}

	select {
	case s.register <- agent:
	case <-s.ctx.Done():
		// Hub already stopped; nothing will drain the channel.
		agent.close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		agent.readPump()
	}()
	go func() {
		defer s.wg.Done()
		agent.writePump()
	}()
}

// readPump handles reading messages from the agent connection.
func (a *AgentClient) readPump() {
	defer func() {
		// The hub stops draining unregister once its context is cancelled;
		// blocking here would strand the pump past shutdown.
		select {
		case a.server.unregister <- a:
		case <-a.server.ctx.Done():
		}
		a.conn.Close()
	}()

	a.conn.SetReadLimit(maxMessageSize)
	a.conn.SetReadDeadline(time.Now().Add(pongWait))
	a.conn.SetPongHandler(func(string) error {
		a.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	a.server.logger.Debugw("Agent read pump started", "agent_id", a.id)

	for {
		_, messageBytes, err := a.conn.ReadMessage()
		if err != nil {
			a.handleReadError(err)
			break
		}

		var msg agentMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			a.server.logger.Warnw("JSON unmarshal error",
				"error", err.Error(),
				"agent_id", a.id,
			)
			continue
		}

		a.routeMessage(&msg)
	}
}

// handleReadError logs unexpected WebSocket read errors. Expected closure
// codes (going away, abnormal, no status) are silently ignored.
func (a *AgentClient) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		a.server.logger.Warnw("WebSocket read error",
			"agent_id", a.id,
			"error", err.Error(),
		)
	}
}

// routeMessage dispatches incoming agent messages.
func (a *AgentClient) routeMessage(msg *agentMessage) {
	switch msg.Type {
	case "ack":
		a.server.logger.Debugw("Payload acknowledged", "agent_id", a.id)
	case "revoked":
		// The agent observed its platform subscription disappear. Drop
		// the server record so the next reconciliation sees the truth.
		if msg.Endpoint != "" {
			if err := a.server.subscriptions.Delete(a.server.ctx, a.userID, msg.Endpoint); err != nil {
				a.server.logger.Warnw("Failed to delete revoked subscription",
					"agent_id", a.id,
					"endpoint", msg.Endpoint,
					"error", err,
				)
			} else {
				a.server.logger.Infow("Subscription revoked by agent",
					"user_id", a.userID,
					"endpoint", msg.Endpoint,
				)
			}
		}
	case "ping":
		// Deadline refresh is handled by the pong handler.
	default:
		a.server.logger.Debugw("Unknown message type",
			"type", msg.Type,
			"agent_id", a.id,
		)
	}
}

// writePump writes push payloads to the agent connection.
func (a *AgentClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		a.conn.Close()
	}()

	a.server.logger.Debugw("Agent write pump started", "agent_id", a.id)

	for {
		select {
		case <-a.server.ctx.Done():
			a.server.logger.Debugw("Write pump stopping due to server shutdown", "agent_id", a.id)
			return
		case payload, ok := <-a.send:
			a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				a.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := a.conn.WriteJSON(pushEnvelope{Type: "push", Payload: payload}); err != nil {
				a.server.logger.Warnw("Payload write error",
					"agent_id", a.id,
					"error", err.Error(),
				)
				return
			}

		case <-ticker.C:
			a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := a.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close safely closes the agent's send channel using sync.Once to prevent
// double-close panics.
func (a *AgentClient) close() {
	a.closeOnce.Do(func() {
		if a.send != nil {
			close(a.send)
		}
	})
}
