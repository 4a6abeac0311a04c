// Package platform abstracts the push platform: the permission grant, the
// platform-held subscription, and the background agent lifecycle. The
// reconciliation engine only ever talks to these interfaces; concrete
// implementations are the local agent runtime (LocalPlatform) and test
// fakes.
package platform

import (
	"context"
)

// PermissionState is the platform-controlled permission tri-state (plus
// unsupported). It is ground truth: polled fresh every reconciliation
// cycle, never cached across cycles.
type PermissionState string

const (
	PermissionUnsupported PermissionState = "unsupported"
	PermissionDefault     PermissionState = "default"
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
)

// Subscription is the platform-issued credential that lets a server address
// push messages to this installation. It exists independently of any
// in-memory state and is always re-queried from the platform.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

// AgentHandle identifies a registered, ready background agent.
type AgentHandle struct {
	ID string
}

// Probe reads and requests the platform permission state.
type Probe interface {
	// Read returns the current permission state. Synchronous and
	// side-effect free.
	Read() PermissionState

	// Request shows the platform permission prompt and blocks until the
	// user decides. Once denied, no further prompt can be shown
	// programmatically; callers must treat denied as stable.
	Request(ctx context.Context) (PermissionState, error)
}

// Registrar ensures the background agent is installed and ready. Must be
// called, and waited on, before any Subscriptions operation: operations
// against a not-yet-ready agent fail non-deterministically.
type Registrar interface {
	// EnsureRegistered is idempotent and blocks until the agent reaches
	// its active/ready lifecycle stage.
	EnsureRegistered(ctx context.Context) (*AgentHandle, error)
}

// Subscriptions wraps the platform-held subscription object.
type Subscriptions interface {
	// Exists waits for the agent to be ready, then queries the platform
	// for a live subscription. Returns false when no agent is registered.
	Exists(ctx context.Context) (bool, error)

	// Current returns the live subscription, or nil when none exists.
	Current(ctx context.Context) (*Subscription, error)

	// Create makes a new subscription against the given VAPID public key.
	// Fails with errors.ErrPermission unless permission is granted and
	// with errors.ErrKey when the key is malformed.
	Create(ctx context.Context, vapidPublicKey []byte) (*Subscription, error)

	// Destroy revokes the platform-side subscription. Idempotent: a
	// missing subscription is reported as success.
	Destroy(ctx context.Context) (bool, error)
}

// Platform bundles the three capabilities a reconciliation engine needs.
type Platform interface {
	Probe
	Registrar
	Subscriptions
}
