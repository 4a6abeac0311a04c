// Package agent implements the background agent: a long-lived process that
// holds the WebSocket connection to the pushsync server, renders incoming
// push payloads, and reports platform-side subscription revocation.
package agent

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/platform"
)

// Payload is an incoming push message. The url is retained for click-time
// navigation.
type Payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
}

// envelope is the wire frame around server-to-agent messages.
type envelope struct {
	Type    string   `json:"type"`
	Payload *Payload `json:"payload,omitempty"`
}

// outboundMessage is the wire frame for agent-to-server messages.
type outboundMessage struct {
	Type     string `json:"type"`
	Endpoint string `json:"endpoint,omitempty"`
}

// DeliveryHandler renders push payloads and handles clicks. Stateless
// event-to-UI mapping; implementations hold no reconciliation state.
type DeliveryHandler interface {
	// Render displays a platform notification with the payload's title
	// and body, retaining the url for Click.
	Render(ctx context.Context, payload *Payload) error

	// Click focuses an existing surface matching url or opens a new one,
	// then dismisses the notification.
	Click(ctx context.Context, url string) error
}

// LogHandler is the default DeliveryHandler: it logs deliveries instead of
// rendering them. Useful for headless deployments and tests.
type LogHandler struct {
	Logger *zap.SugaredLogger
}

func (h *LogHandler) Render(ctx context.Context, payload *Payload) error {
	if h.Logger != nil {
		h.Logger.Infow("Notification",
			"title", payload.Title,
			"body", payload.Body,
			"url", payload.URL,
		)
	}
	return nil
}

func (h *LogHandler) Click(ctx context.Context, url string) error {
	if h.Logger != nil {
		h.Logger.Infow("Notification clicked", "url", url)
	}
	return nil
}

const (
	defaultReconnectInterval = 5 * time.Second
	writeWait                = 10 * time.Second

	// defaultRevocationInterval paces the platform subscription probe that
	// detects out-of-band revocation.
	defaultRevocationInterval = 30 * time.Second

	// outboundQueueSize bounds per-connection pending writes. A full queue
	// drops the message; reconciliation repairs anything a dropped report
	// would have told the server.
	outboundQueueSize = 8
)

// Runner maintains the server connection and dispatches payloads to the
// delivery handler.
type Runner struct {
	serverURL string
	token     string
	handler   DeliveryHandler
	platform  platform.Subscriptions
	logger    *zap.SugaredLogger

	reconnectInterval  time.Duration
	revocationInterval time.Duration
	dialer             *websocket.Dialer

	// lastEndpoint tracks the platform subscription endpoint seen on the
	// previous revocation check. Only touched by the revocation watcher
	// goroutine of the current connection.
	lastEndpoint string
}

// Option configures a Runner.
type Option func(*Runner)

// WithReconnectInterval overrides the delay between reconnect attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(r *Runner) { r.reconnectInterval = d }
}

// WithPlatform attaches the platform subscription store so the runner can
// detect and report external revocation. Optional.
func WithPlatform(subs platform.Subscriptions) Option {
	return func(r *Runner) { r.platform = subs }
}

// WithRevocationInterval overrides how often the platform subscription is
// probed for out-of-band revocation.
func WithRevocationInterval(d time.Duration) Option {
	return func(r *Runner) { r.revocationInterval = d }
}

// NewRunner builds a runner. handler may be nil, in which case payloads
// are logged.
func NewRunner(serverURL, token string, handler DeliveryHandler, logger *zap.SugaredLogger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if handler == nil {
		handler = &LogHandler{Logger: logger}
	}
	r := &Runner{
		serverURL:          strings.TrimRight(serverURL, "/"),
		token:              token,
		handler:            handler,
		logger:             logger,
		reconnectInterval:  defaultReconnectInterval,
		revocationInterval: defaultRevocationInterval,
		dialer:             websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run connects to the server and processes payloads until ctx is
// cancelled, reconnecting after connection loss.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := r.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warnw("Connection lost, reconnecting",
				"error", err,
				"retry_in", r.reconnectInterval,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.reconnectInterval):
		}
	}
}

// runOnce holds one connection until it drops or ctx is cancelled.
func (r *Runner) runOnce(ctx context.Context) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	r.logger.Infow("Connected to server", "url", r.wsURL())

	// Close the connection when ctx is cancelled so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// The connection supports one concurrent writer. Every outbound
	// message funnels through writePump; the read loop and the revocation
	// watcher only enqueue.
	send := make(chan outboundMessage, outboundQueueSize)
	go r.writePump(conn, send, done)

	if r.platform != nil {
		go r.watchRevocation(ctx, send, done)
	}

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "reading from server")
		}
		r.handleEnvelope(ctx, send, &env)
	}
}

// writePump is the connection's only writer.
func (r *Runner) writePump(conn *websocket.Conn, send <-chan outboundMessage, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				r.logger.Debugw("Failed to write to server", "type", msg.Type, "error", err)
				return
			}
		}
	}
}

// enqueue hands a message to the connection's writer without blocking the
// caller. A full queue drops the message.
func (r *Runner) enqueue(send chan<- outboundMessage, msg outboundMessage) {
	select {
	case send <- msg:
	default:
		r.logger.Debugw("Outbound queue full, dropping message", "type", msg.Type)
	}
}

func (r *Runner) handleEnvelope(ctx context.Context, send chan<- outboundMessage, env *envelope) {
	switch env.Type {
	case "push":
		if env.Payload == nil {
			r.logger.Warnw("Push envelope with no payload")
			return
		}
		if err := r.handler.Render(ctx, env.Payload); err != nil {
			r.logger.Errorw("Failed to render notification",
				"title", env.Payload.Title,
				"error", err,
			)
			return
		}
		r.enqueue(send, outboundMessage{Type: "ack"})
	default:
		r.logger.Debugw("Unknown server message", "type", env.Type)
	}
}

// watchRevocation polls the platform subscription and tells the server
// when it disappears, so the server record does not outlive the platform
// side. Best-effort: a missed report is repaired by the client's next
// reconciliation.
func (r *Runner) watchRevocation(ctx context.Context, send chan<- outboundMessage, done <-chan struct{}) {
	ticker := time.NewTicker(r.revocationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			sub, err := r.platform.Current(ctx)
			if err != nil {
				r.logger.Debugw("Failed to read platform subscription", "error", err)
				continue
			}
			switch {
			case sub != nil:
				r.lastEndpoint = sub.Endpoint
			case r.lastEndpoint != "":
				endpoint := r.lastEndpoint
				r.lastEndpoint = ""
				r.enqueue(send, outboundMessage{Type: "revoked", Endpoint: endpoint})
				r.logger.Infow("Reported revoked subscription", "endpoint", endpoint)
			}
		}
	}
}

func (r *Runner) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.token)

	conn, resp, err := r.dialer.DialContext(ctx, r.wsURL(), header)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Mark(errors.New("server rejected agent credential"), errors.ErrUnauthorized)
		}
		return nil, errors.Mark(errors.Wrap(err, "dialing server"), errors.ErrNetwork)
	}
	return conn, nil
}

func (r *Runner) wsURL() string {
	url := r.serverURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws/agent"
}

