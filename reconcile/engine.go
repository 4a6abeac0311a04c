package reconcile

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/platform"
	"github.com/peergrade/pushsync/prefs"
)

// ServerSync is the server-side half of reconciliation. Implemented by
// syncclient.Client; tests substitute a fake.
type ServerSync interface {
	FetchPublicKey(ctx context.Context) ([]byte, error)
	CreateRecord(ctx context.Context, sub *platform.Subscription) error
	DeleteRecord(ctx context.Context, endpoint string) error
	GetPreferences(ctx context.Context) (*prefs.Record, error)
	PatchPreferences(ctx context.Context, patch prefs.Patch) (*prefs.Record, error)
}

// RetryPolicy decides what happens to a failed automatic repair.
type RetryPolicy interface {
	// Defer reports whether the failure should be swallowed now and the
	// repair reattempted on the next trigger.
	Defer(err error) bool
}

// RetryOnNextTrigger defers transient failures to the next reconciliation
// trigger: a single attempt per trigger, no in-place backoff loop. Swap
// for a backoff policy without touching the state machine.
type RetryOnNextTrigger struct{}

func (RetryOnNextTrigger) Defer(err error) bool { return errors.IsRetryable(err) }

// Engine drives reconciliation runs. Re-entrant: two triggers firing
// concurrently may both run the read-then-act sequence, relying on the
// idempotence of the underlying operations (subscription destroy, server
// upsert and delete) rather than on a lock held across suspend points.
// The more recent platform read wins.
type Engine struct {
	platform platform.Platform
	server   ServerSync
	policy   RetryPolicy
	logger   *zap.SugaredLogger

	mu   sync.Mutex
	last Result
}

// NewEngine builds an engine over the given platform and server client.
// logger may be nil.
func NewEngine(p platform.Platform, server ServerSync, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		platform: p,
		server:   server,
		policy:   RetryOnNextTrigger{},
		logger:   logger,
	}
}

// SetRetryPolicy replaces the repair retry policy. Call before the first
// trigger.
func (e *Engine) SetRetryPolicy(policy RetryPolicy) { e.policy = policy }

// Last returns the most recently computed result. Zero value before the
// first run.
func (e *Engine) Last() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Run executes one reconciliation cycle: re-read all three state sources,
// decide, act. Every trigger does the full read; nothing is trusted from
// previous cycles because all three sources can change from outside the
// application between triggers.
func (e *Engine) Run(ctx context.Context, trigger Trigger) Result {
	obs, readErr := e.observe(ctx)
	status, action := Decide(obs)

	res := Result{
		Trigger:           trigger,
		Permission:        obs.Permission,
		BrowserSubscribed: obs.BrowserSubscribed,
		ServerSynced:      obs.ServerSynced,
		Action:            action,
		Status:            status,
	}

	if readErr != nil {
		// Server state could not be read. No corrective action; the
		// next trigger retries the read.
		if e.policy.Defer(readErr) {
			e.log("reconcile read deferred", "trigger", trigger, "error", readErr)
		} else {
			res.Err = readErr
		}
		return e.record(res)
	}

	if action == ActionRepair {
		if err := e.repair(ctx); err != nil {
			if e.policy.Defer(err) {
				e.log("repair deferred to next trigger", "trigger", trigger, "error", err)
			} else {
				res.Err = err
			}
			return e.record(res)
		}
		res.ServerSynced = true
		res.Status = StatusSynced
	}

	return e.record(res)
}

// Enable is the explicit user opt-in: prompt if undecided, create the
// subscription, register it with the server. The only path that creates a
// new subscription.
func (e *Engine) Enable(ctx context.Context) Result {
	res := Result{Trigger: TriggerUserAction, Action: ActionNone}

	perm := e.platform.Read()
	res.Permission = perm

	switch perm {
	case platform.PermissionUnsupported:
		res.Status = StatusUnsupported
		res.Err = errors.ErrUnsupported
		return e.record(res)
	case platform.PermissionDenied:
		res.Status = StatusBlocked
		res.Err = errors.Wrap(errors.ErrPermission, "permission previously denied")
		return e.record(res)
	case platform.PermissionDefault:
		decided, err := e.platform.Request(ctx)
		if err != nil {
			res.Status = StatusNeedsPermission
			res.Err = err
			return e.record(res)
		}
		res.Permission = decided
		if decided != platform.PermissionGranted {
			// The user declined at the prompt. Stable until they act
			// outside the application; no error, nothing to retry.
			res.Status = StatusBlocked
			return e.record(res)
		}
	}

	if _, err := e.platform.EnsureRegistered(ctx); err != nil {
		res.Status = StatusDisabled
		res.Err = err
		return e.record(res)
	}

	sub, err := e.platform.Current(ctx)
	if err != nil {
		res.Status = StatusDisabled
		res.Err = err
		return e.record(res)
	}

	if sub == nil {
		key, err := e.server.FetchPublicKey(ctx)
		if err != nil {
			res.Status = StatusDisabled
			res.Err = err
			return e.record(res)
		}
		sub, err = e.platform.Create(ctx, key)
		if err != nil {
			res.Status = StatusDisabled
			res.Err = err
			return e.record(res)
		}
	}
	res.BrowserSubscribed = true

	if err := e.server.CreateRecord(ctx, sub); err != nil {
		// The subscription exists but the server record does not: the
		// drift case. Surface the error; the next trigger repairs it
		// without further consent.
		res.Status = StatusRepairNeeded
		res.Err = err
		return e.record(res)
	}

	res.ServerSynced = true
	res.Status = StatusSynced
	e.log("push enabled", "endpoint", sub.Endpoint)
	return e.record(res)
}

// Disable is the explicit user opt-out: revoke the subscription and delete
// the server record. Both halves are idempotent, so a double-click or a
// concurrent trigger cannot make the second call fail.
func (e *Engine) Disable(ctx context.Context) Result {
	res := Result{Trigger: TriggerUserAction, Action: ActionNone}
	res.Permission = e.platform.Read()

	sub, err := e.platform.Current(ctx)
	if err != nil {
		res.Status = StatusDisabled
		res.Err = err
		return e.record(res)
	}

	if _, err := e.platform.Destroy(ctx); err != nil {
		res.BrowserSubscribed = true
		res.Status = StatusRepairNeeded
		res.Err = err
		return e.record(res)
	}

	if sub != nil {
		if err := e.server.DeleteRecord(ctx, sub.Endpoint); err != nil {
			res.Err = err
			res.Status = StatusDisabled
			return e.record(res)
		}
		e.log("push disabled", "endpoint", sub.Endpoint)
	}

	status, _ := Decide(Observation{Permission: res.Permission, BrowserSubscribed: false, ServerSynced: true})
	res.ServerSynced = true
	res.Status = status
	return e.record(res)
}

// observe performs the fresh three-source read. When permission is not
// granted the platform and server reads are skipped: no state below a
// grant can require action.
func (e *Engine) observe(ctx context.Context) (Observation, error) {
	obs := Observation{Permission: e.platform.Read()}
	if obs.Permission != platform.PermissionGranted {
		return obs, nil
	}

	subscribed, err := e.platform.Exists(ctx)
	if err != nil {
		return obs, err
	}
	obs.BrowserSubscribed = subscribed
	if !subscribed {
		return obs, nil
	}

	// The preference record is created as a side effect of subscribe, so
	// its absence for a user with a live subscription means the server
	// record is missing or was lost.
	if _, err := e.server.GetPreferences(ctx); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return obs, nil
		}
		return obs, err
	}
	obs.ServerSynced = true
	return obs, nil
}

// repair recreates the server record for the existing subscription. The
// server upserts on (user, endpoint), so concurrent or repeated repairs
// collapse into one record.
func (e *Engine) repair(ctx context.Context) error {
	sub, err := e.platform.Current(ctx)
	if err != nil {
		return err
	}
	if sub == nil {
		// Revoked between the read and the act. The next trigger
		// observes the new state.
		return nil
	}
	if err := e.server.CreateRecord(ctx, sub); err != nil {
		return err
	}
	e.log("server record repaired", "endpoint", sub.Endpoint)
	return nil
}

// Toggle applies one preference change through the server. The returned
// record is what the settings surface should display: the updated record
// on success, the unchanged prior record on failure, so an optimistic UI
// bound to it rolls back automatically.
func (e *Engine) Toggle(ctx context.Context, current prefs.Record, patch prefs.Patch) (prefs.Record, error) {
	updated, err := e.server.PatchPreferences(ctx, patch)
	if err != nil {
		return current, err
	}
	return *updated, nil
}

func (e *Engine) record(res Result) Result {
	e.mu.Lock()
	e.last = res
	e.mu.Unlock()
	return res
}

func (e *Engine) log(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Infow(msg, kv...)
	}
}
