// Package reconcile keeps the three push-subscription state sources in
// agreement: the platform permission grant, the platform-held subscription,
// and the server's subscription record plus preferences. The three drift
// independently and silently (permission revoked from platform settings,
// subscription garbage-collected, server record lost or never created), so
// on every trigger the engine re-reads all three and repairs divergence.
package reconcile

import (
	"github.com/peergrade/pushsync/platform"
)

// Trigger names the lifecycle event that invoked a reconciliation run.
type Trigger string

const (
	// TriggerLoad is the initial application load.
	TriggerLoad Trigger = "load"
	// TriggerRefocus fires when the application regains visibility or
	// focus. Best-effort detector for out-of-band permission changes.
	TriggerRefocus Trigger = "refocus"
	// TriggerUserAction is an explicit enable or disable.
	TriggerUserAction Trigger = "user-action"
)

// Status is the externally-observable subscription state consumed by the
// settings surface.
type Status string

const (
	// StatusUnsupported means the platform lacks the required push APIs.
	// Terminal; the engine never acts.
	StatusUnsupported Status = "unsupported"
	// StatusNeedsPermission means permission was never decided. The
	// engine waits for an explicit user enable.
	StatusNeedsPermission Status = "needs-permission"
	// StatusBlocked means permission was denied. Terminal until the user
	// changes platform settings outside the application; no re-prompt is
	// possible.
	StatusBlocked Status = "blocked"
	// StatusDisabled means permission is granted but no subscription
	// exists. Creating one requires explicit user intent.
	StatusDisabled Status = "disabled"
	// StatusRepairNeeded means a live subscription has no server record.
	// The engine repairs this automatically.
	StatusRepairNeeded Status = "repair-needed"
	// StatusSynced means all three state sources agree.
	StatusSynced Status = "synced"
)

// Action is the corrective step a reconciliation run decided on.
type Action string

const (
	ActionNone Action = "none"
	// ActionRepair recreates the missing server record for an existing
	// subscription. Pure repair: permission was already granted, so no
	// new consent is involved.
	ActionRepair Action = "repair"
)

// Observation is one fresh read of all three state sources. Never cached
// across runs.
type Observation struct {
	Permission        platform.PermissionState
	BrowserSubscribed bool
	ServerSynced      bool
}

// Result is the transient outcome of one reconciliation run.
type Result struct {
	Trigger           Trigger
	Permission        platform.PermissionState
	BrowserSubscribed bool
	ServerSynced      bool
	Action            Action
	Status            Status
	// Err carries a failed corrective action or user action. Deferred
	// repair failures (retried on the next trigger) are not reported
	// here.
	Err error
}

// Decide maps one observation to a status and corrective action. Pure
// decision function with no I/O; the engine performs the action.
//
// The one automatic action is repair: a granted permission with a live
// subscription but no server record gets its record recreated. A missing
// subscription is never auto-created, since creating one is a consent
// action reserved for an explicit user enable.
func Decide(obs Observation) (Status, Action) {
	switch obs.Permission {
	case platform.PermissionUnsupported:
		return StatusUnsupported, ActionNone
	case platform.PermissionDefault:
		return StatusNeedsPermission, ActionNone
	case platform.PermissionDenied:
		return StatusBlocked, ActionNone
	}

	if !obs.BrowserSubscribed {
		return StatusDisabled, ActionNone
	}
	if !obs.ServerSynced {
		return StatusRepairNeeded, ActionRepair
	}
	return StatusSynced, ActionNone
}
