package platform

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/vapid"
)

// PromptFunc answers the platform permission prompt. It blocks until the
// user decides; there is deliberately no timeout (the prompt is user-paced).
type PromptFunc func(ctx context.Context) (granted bool, err error)

// localState is the persisted platform-owned state. It lives in the agent's
// state file, outside the client application, so it survives restarts and
// can be mutated externally (the analog of revoking permission from browser
// chrome or clearing browser data).
type localState struct {
	Permission   PermissionState `json:"permission"`
	Registered   bool            `json:"registered"`
	AgentID      string          `json:"agent_id,omitempty"`
	Subscription *Subscription   `json:"subscription,omitempty"`
}

// LocalPlatform is a file-backed Platform implementation used by the agent
// runtime. Every read goes back to the state file so external mutation is
// observed, matching the "never trust cached state" contract.
type LocalPlatform struct {
	path      string
	endpoint  string // base URL new subscription endpoints are minted under
	prompt    PromptFunc
	logger    *zap.SugaredLogger
	mu        sync.Mutex // serializes state file read-modify-write only
	supported bool
}

// NewLocalPlatform creates a platform rooted at the given state file.
// endpointBase is the relay URL subscriptions are minted under. A nil
// prompt denies every permission request.
func NewLocalPlatform(statePath, endpointBase string, prompt PromptFunc, logger *zap.SugaredLogger) *LocalPlatform {
	return &LocalPlatform{
		path:      statePath,
		endpoint:  endpointBase,
		prompt:    prompt,
		logger:    logger,
		supported: true,
	}
}

// SetSupported toggles the unsupported state (used to model a platform
// without push APIs).
func (p *LocalPlatform) SetSupported(supported bool) {
	p.supported = supported
}

// Read implements Probe.
func (p *LocalPlatform) Read() PermissionState {
	if !p.supported {
		return PermissionUnsupported
	}
	st, err := p.load()
	if err != nil {
		return PermissionDefault
	}
	return st.Permission
}

// Request implements Probe. Denied is terminal: the prompt is never shown
// again, the stored denial is returned as-is.
func (p *LocalPlatform) Request(ctx context.Context) (PermissionState, error) {
	if !p.supported {
		return PermissionUnsupported, errors.ErrUnsupported
	}

	st, err := p.load()
	if err != nil {
		return PermissionDefault, err
	}

	switch st.Permission {
	case PermissionGranted, PermissionDenied:
		return st.Permission, nil
	}

	if p.prompt == nil {
		return PermissionDefault, nil
	}

	granted, err := p.prompt(ctx)
	if err != nil {
		return PermissionDefault, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	st, err = p.loadLocked()
	if err != nil {
		return PermissionDefault, err
	}
	if granted {
		st.Permission = PermissionGranted
	} else {
		st.Permission = PermissionDenied
	}
	if err := p.saveLocked(st); err != nil {
		return PermissionDefault, err
	}

	if p.logger != nil {
		p.logger.Infow("Permission prompt resolved", "state", st.Permission)
	}
	return st.Permission, nil
}

// EnsureRegistered implements Registrar. Registration is idempotent; the
// handle is minted once and reused.
func (p *LocalPlatform) EnsureRegistered(ctx context.Context) (*AgentHandle, error) {
	if !p.supported {
		return nil, errors.ErrUnsupported
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.loadLocked()
	if err != nil {
		return nil, err
	}

	if st.Registered && st.AgentID != "" {
		return &AgentHandle{ID: st.AgentID}, nil
	}

	st.Registered = true
	st.AgentID = uuid.NewString()
	if err := p.saveLocked(st); err != nil {
		return nil, err
	}

	if p.logger != nil {
		p.logger.Infow("Background agent registered", "agent_id", st.AgentID)
	}
	return &AgentHandle{ID: st.AgentID}, nil
}

// Exists implements Subscriptions.
func (p *LocalPlatform) Exists(ctx context.Context) (bool, error) {
	if !p.supported {
		return false, nil
	}

	st, err := p.load()
	if err != nil {
		return false, err
	}
	if !st.Registered {
		return false, nil
	}
	return st.Subscription != nil, nil
}

// Create implements Subscriptions.
func (p *LocalPlatform) Create(ctx context.Context, vapidPublicKey []byte) (*Subscription, error) {
	if !p.supported {
		return nil, errors.ErrUnsupported
	}

	if _, err := p.EnsureRegistered(ctx); err != nil {
		return nil, err
	}

	if p.Read() != PermissionGranted {
		return nil, errors.Wrap(errors.ErrPermission, "creating subscription")
	}

	if err := vapid.ValidatePublicKey(vapidPublicKey); err != nil {
		return nil, err
	}

	keys, err := newSubscriptionKeys()
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		Endpoint:  p.endpoint + "/push/" + uuid.NewString(),
		P256dhKey: keys.p256dh,
		AuthKey:   keys.auth,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.loadLocked()
	if err != nil {
		return nil, err
	}
	st.Subscription = sub
	if err := p.saveLocked(st); err != nil {
		return nil, err
	}

	if p.logger != nil {
		p.logger.Infow("Subscription created", "endpoint", sub.Endpoint)
	}
	return sub, nil
}

// Destroy implements Subscriptions.
func (p *LocalPlatform) Destroy(ctx context.Context) (bool, error) {
	if !p.supported {
		return true, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.loadLocked()
	if err != nil {
		return false, err
	}
	if st.Subscription == nil {
		return true, nil
	}

	st.Subscription = nil
	if err := p.saveLocked(st); err != nil {
		return false, err
	}

	if p.logger != nil {
		p.logger.Infow("Subscription destroyed")
	}
	return true, nil
}

// Current implements Subscriptions. Returns nil when no subscription
// exists.
func (p *LocalPlatform) Current(ctx context.Context) (*Subscription, error) {
	if !p.supported {
		return nil, nil
	}
	st, err := p.load()
	if err != nil {
		return nil, err
	}
	return st.Subscription, nil
}

func (p *LocalPlatform) load() (*localState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked()
}

func (p *LocalPlatform) loadLocked() (*localState, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return &localState{Permission: PermissionDefault}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading platform state")
	}

	var st localState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, "parsing platform state")
	}
	if st.Permission == "" {
		st.Permission = PermissionDefault
	}
	return &st, nil
}

func (p *LocalPlatform) saveLocked(st *localState) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0750); err != nil {
		return errors.Wrap(err, "creating state directory")
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling platform state")
	}

	if err := os.WriteFile(p.path, data, 0600); err != nil {
		return errors.Wrap(err, "writing platform state")
	}
	return nil
}

type subscriptionKeys struct {
	p256dh string
	auth   string
}

// newSubscriptionKeys mints the per-subscription key material: a fresh
// P-256 public point and a 16-byte auth secret, both in wire encoding.
func newSubscriptionKeys() (*subscriptionKeys, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating subscription key")
	}

	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		return nil, errors.Wrap(err, "generating auth secret")
	}

	return &subscriptionKeys{
		p256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		auth:   base64.RawURLEncoding.EncodeToString(auth),
	}, nil
}
