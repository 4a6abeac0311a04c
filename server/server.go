// Package server implements the pushsync HTTP and WebSocket server: the
// VAPID key endpoint, subscription and preference APIs, and the relay that
// delivers push payloads to connected background agents.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/peergrade/pushsync/config"
	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/store"
	"github.com/peergrade/pushsync/vapid"
)

const (
	// MaxAgents caps concurrent agent connections.
	MaxAgents = 1024

	// ShutdownTimeout bounds how long Stop waits for goroutines.
	ShutdownTimeout = 10 * time.Second
)

// PushServer accepts subscription registrations over HTTP and relays push
// payloads to connected background agents over WebSocket.
type PushServer struct {
	db            *sql.DB
	cfg           *config.Config
	subscriptions *store.SubscriptionStore
	preferences   *store.PreferenceStore
	tokens        *store.TokenStore

	vapidPublicKey  string
	vapidPrivateKey string

	agents     map[*AgentClient]bool
	register   chan *AgentClient
	unregister chan *AgentClient
	deliver    chan *delivery
	mu         sync.RWMutex

	mux        *http.ServeMux
	httpServer *http.Server
	keyLimiter *rate.Limiter

	logger *zap.SugaredLogger

	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	deliveryDrops atomic.Int64
}

// delivery is one push payload routed to every connected agent of a user.
type delivery struct {
	userID  string
	payload *PushPayload
	done    chan int // receives the number of agents the payload was sent to
}

// PushPayload is the message the background agent renders as a platform
// notification. The url is stored for click-time navigation.
type PushPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
}

// NewPushServer builds a server over an already-migrated database. The
// VAPID key pair is resolved in order: explicit config, persisted key file,
// freshly generated (and persisted when a key file path is set).
func NewPushServer(db *sql.DB, cfg *config.Config, logger *zap.SugaredLogger) (*PushServer, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &PushServer{
		db:            db,
		cfg:           cfg,
		subscriptions: store.NewSubscriptionStore(db),
		preferences:   store.NewPreferenceStore(db),
		tokens:        store.NewTokenStore(db),
		agents:        make(map[*AgentClient]bool),
		register:      make(chan *AgentClient),
		unregister:    make(chan *AgentClient),
		deliver:       make(chan *delivery, 256),
		mux:           http.NewServeMux(),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}

	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}

	if err := s.resolveVAPIDKeys(); err != nil {
		cancel()
		return nil, err
	}

	rps := cfg.Server.KeyRequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Server.KeyRequestsBurst
	if burst <= 0 {
		burst = 20
	}
	s.keyLimiter = rate.NewLimiter(rate.Limit(rps), burst)

	s.setupHTTPRoutes()
	return s, nil
}

// resolveVAPIDKeys loads or generates the server key pair.
func (s *PushServer) resolveVAPIDKeys() error {
	if s.cfg.VAPID.PublicKey != "" && s.cfg.VAPID.PrivateKey != "" {
		raw, err := vapid.DecodeKey(s.cfg.VAPID.PublicKey)
		if err != nil {
			return errors.Wrap(err, "configured VAPID public key")
		}
		if err := vapid.ValidatePublicKey(raw); err != nil {
			return errors.Wrap(err, "configured VAPID public key")
		}
		s.vapidPublicKey = s.cfg.VAPID.PublicKey
		s.vapidPrivateKey = s.cfg.VAPID.PrivateKey
		return nil
	}

	if s.cfg.VAPID.KeyFile != "" {
		pub, priv, err := config.LoadVAPIDKeys(s.cfg.VAPID.KeyFile)
		if err != nil {
			return err
		}
		if pub != "" && priv != "" {
			s.vapidPublicKey = pub
			s.vapidPrivateKey = priv
			s.logger.Infow("Loaded VAPID keys", "key_file", s.cfg.VAPID.KeyFile)
			return nil
		}
	}

	pair, err := vapid.GenerateKeyPair()
	if err != nil {
		return errors.Wrap(err, "generating VAPID key pair")
	}
	s.vapidPublicKey = pair.PublicKey
	s.vapidPrivateKey = pair.PrivateKey

	if s.cfg.VAPID.KeyFile != "" {
		if err := config.SaveVAPIDKeys(s.cfg.VAPID.KeyFile, pair.PublicKey, pair.PrivateKey); err != nil {
			return err
		}
		s.logger.Infow("Generated and persisted VAPID keys", "key_file", s.cfg.VAPID.KeyFile)
	} else {
		s.logger.Warnw("Generated ephemeral VAPID keys; set vapid.key_file to persist them across restarts")
	}
	return nil
}

// Handler exposes the route mux, primarily for httptest.
func (s *PushServer) Handler() http.Handler { return s.mux }

// Run starts the agent hub event loop. All agent map mutations and payload
// fan-out happen here, on a single goroutine.
func (s *PushServer) Run() {
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Agent hub stopping due to context cancellation")
			return
		case agent := <-s.register:
			s.handleAgentRegister(agent)
		case agent := <-s.unregister:
			s.handleAgentUnregister(agent)
		case d := <-s.deliver:
			s.handleDelivery(d)
		}
	}
}

func (s *PushServer) handleAgentRegister(agent *AgentClient) {
	s.mu.Lock()
	if len(s.agents) >= MaxAgents {
		s.mu.Unlock()
		s.logger.Warnw("Max agents reached, rejecting connection",
			"agent_id", agent.id,
			"max_agents", MaxAgents,
		)
		agent.close()
		return
	}
	s.agents[agent] = true
	total := len(s.agents)
	s.mu.Unlock()

	s.logger.Infow("Agent connected",
		"agent_id", agent.id,
		"user_id", agent.userID,
		"total_agents", total,
	)
}

func (s *PushServer) handleAgentUnregister(agent *AgentClient) {
	s.mu.Lock()
	if _, ok := s.agents[agent]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.agents, agent)
	total := len(s.agents)
	s.mu.Unlock()

	agent.close()
	s.logger.Infow("Agent disconnected",
		"agent_id", agent.id,
		"user_id", agent.userID,
		"total_agents", total,
	)
}

// handleDelivery fans a payload out to every connected agent of the target
// user. Agents that cannot keep up are dropped rather than blocking the hub.
func (s *PushServer) handleDelivery(d *delivery) {
	s.mu.RLock()
	targets := make([]*AgentClient, 0, 2)
	for agent := range s.agents {
		if agent.userID == d.userID {
			targets = append(targets, agent)
		}
	}
	s.mu.RUnlock()

	sent := 0
	for _, agent := range targets {
		select {
		case agent.send <- d.payload:
			sent++
		default:
			s.deliveryDrops.Add(1)
			s.logger.Warnw("Agent send channel full, dropping payload",
				"agent_id", agent.id,
				"total_drops", s.deliveryDrops.Load(),
			)
		}
	}

	if d.done != nil {
		d.done <- sent
	}
}

// Deliver queues a payload for every connected agent of userID and reports
// how many agents received it. Returns 0 when no agent is connected; the
// record still exists, so the next agent connection will receive later
// sends.
func (s *PushServer) Deliver(ctx context.Context, userID string, payload *PushPayload) (int, error) {
	d := &delivery{userID: userID, payload: payload, done: make(chan int, 1)}
	select {
	case s.deliver <- d:
	case <-s.ctx.Done():
		return 0, errors.New("server shutting down")
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case sent := <-d.done:
		return sent, nil
	case <-s.ctx.Done():
		return 0, errors.New("server shutting down")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// AgentCount reports the number of connected agent clients.
func (s *PushServer) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// InsertToken provisions an access token mapped to userID. Used by the CLI
// to mint tokens for local agents.
func (s *PushServer) InsertToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	return s.tokens.Insert(ctx, token, userID, expiresAt)
}

// CloseAgentConnections drops every live agent connection without shutting
// the server down. Agents reconnect on their own.
func (s *PushServer) CloseAgentConnections() {
	s.mu.RLock()
	conns := make([]*AgentClient, 0, len(s.agents))
	for agent := range s.agents {
		conns = append(conns, agent)
	}
	s.mu.RUnlock()

	for _, agent := range conns {
		agent.conn.Close()
	}
}

