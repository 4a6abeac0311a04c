package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/platform"
	"github.com/peergrade/pushsync/prefs"
)

type fakePlatform struct {
	permission    platform.PermissionState
	promptResult  platform.PermissionState
	subscription  *platform.Subscription
	promptCalls   int
	createCalls   int
	destroyCalls  int
	registerCalls int
}

func (f *fakePlatform) Read() platform.PermissionState { return f.permission }

func (f *fakePlatform) Request(ctx context.Context) (platform.PermissionState, error) {
	f.promptCalls++
	f.permission = f.promptResult
	return f.permission, nil
}

func (f *fakePlatform) EnsureRegistered(ctx context.Context) (*platform.AgentHandle, error) {
	f.registerCalls++
	return &platform.AgentHandle{ID: "agent-1"}, nil
}

func (f *fakePlatform) Exists(ctx context.Context) (bool, error) {
	return f.subscription != nil, nil
}

func (f *fakePlatform) Current(ctx context.Context) (*platform.Subscription, error) {
	return f.subscription, nil
}

func (f *fakePlatform) Create(ctx context.Context, key []byte) (*platform.Subscription, error) {
	f.createCalls++
	if f.permission != platform.PermissionGranted {
		return nil, errors.ErrPermission
	}
	f.subscription = &platform.Subscription{
		Endpoint:  "https://push.example.com/send/fake",
		P256dhKey: "p256dh",
		AuthKey:   "auth",
	}
	return f.subscription, nil
}

func (f *fakePlatform) Destroy(ctx context.Context) (bool, error) {
	f.destroyCalls++
	f.subscription = nil
	return true, nil
}

type fakeServer struct {
	record            *platform.Subscription
	prefsRecord       *prefs.Record
	createCalls       int
	deleteCalls       int
	createRecordErr   error
	patchErr          error
	getPrefsTransient error
}

func (f *fakeServer) FetchPublicKey(ctx context.Context) ([]byte, error) {
	key := make([]byte, 65)
	key[0] = 0x04
	return key, nil
}

func (f *fakeServer) CreateRecord(ctx context.Context, sub *platform.Subscription) error {
	f.createCalls++
	if f.createRecordErr != nil {
		return f.createRecordErr
	}
	f.record = sub
	if f.prefsRecord == nil {
		rec := prefs.Default()
		f.prefsRecord = &rec
	}
	return nil
}

func (f *fakeServer) DeleteRecord(ctx context.Context, endpoint string) error {
	f.deleteCalls++
	f.record = nil
	return nil
}

func (f *fakeServer) GetPreferences(ctx context.Context) (*prefs.Record, error) {
	if f.getPrefsTransient != nil {
		return nil, f.getPrefsTransient
	}
	if f.record == nil || f.prefsRecord == nil {
		return nil, errors.ErrNotFound
	}
	return f.prefsRecord, nil
}

func (f *fakeServer) PatchPreferences(ctx context.Context, patch prefs.Patch) (*prefs.Record, error) {
	if f.patchErr != nil {
		return nil, f.patchErr
	}
	updated := patch.Apply(*f.prefsRecord)
	f.prefsRecord = &updated
	return f.prefsRecord, nil
}

func newTestEngine(p *fakePlatform, s *fakeServer) *Engine {
	return NewEngine(p, s, nil)
}

func TestNoMutationsWithoutGrant(t *testing.T) {
	for _, perm := range []platform.PermissionState{
		platform.PermissionUnsupported,
		platform.PermissionDefault,
		platform.PermissionDenied,
	} {
		t.Run(string(perm), func(t *testing.T) {
			p := &fakePlatform{permission: perm}
			s := &fakeServer{}
			engine := newTestEngine(p, s)

			for _, trig := range []Trigger{TriggerLoad, TriggerRefocus, TriggerRefocus, TriggerLoad} {
				engine.Run(context.Background(), trig)
			}

			assert.Zero(t, p.createCalls)
			assert.Zero(t, p.destroyCalls)
			assert.Zero(t, p.promptCalls)
			assert.Zero(t, s.createCalls)
			assert.Zero(t, s.deleteCalls)
		})
	}
}

func TestNoAutoSubscribeWithoutUserIntent(t *testing.T) {
	p := &fakePlatform{permission: platform.PermissionGranted}
	s := &fakeServer{}
	engine := newTestEngine(p, s)

	for i := 0; i < 5; i++ {
		res := engine.Run(context.Background(), TriggerRefocus)
		assert.Equal(t, StatusDisabled, res.Status)
		assert.Equal(t, ActionNone, res.Action)
	}

	assert.Zero(t, p.createCalls, "passive triggers must never create a subscription")
	assert.Zero(t, s.createCalls)
}

func TestRepairIssuesOneCreateRecordPerTrigger(t *testing.T) {
	p := &fakePlatform{
		permission:   platform.PermissionGranted,
		subscription: &platform.Subscription{Endpoint: "https://push.example.com/send/x"},
	}
	s := &fakeServer{createRecordErr: errors.Wrap(errors.ErrNetwork, "server unreachable")}
	engine := newTestEngine(p, s)

	res := engine.Run(context.Background(), TriggerLoad)
	assert.Equal(t, 1, s.createCalls)
	assert.Equal(t, StatusRepairNeeded, res.Status)
	assert.NoError(t, res.Err, "transient repair failure is deferred, not surfaced")

	res = engine.Run(context.Background(), TriggerRefocus)
	assert.Equal(t, 2, s.createCalls, "exactly one more attempt on the next trigger")
	assert.Equal(t, StatusRepairNeeded, res.Status)

	s.createRecordErr = nil
	res = engine.Run(context.Background(), TriggerRefocus)
	assert.Equal(t, 3, s.createCalls)
	assert.Equal(t, StatusSynced, res.Status)
	assert.True(t, res.ServerSynced)
}

func TestRefocusRepairsLostServerRecord(t *testing.T) {
	p := &fakePlatform{
		permission:   platform.PermissionGranted,
		subscription: &platform.Subscription{Endpoint: "https://push.example.com/send/x"},
	}
	s := &fakeServer{}
	engine := newTestEngine(p, s)

	res := engine.Run(context.Background(), TriggerRefocus)

	assert.Equal(t, 1, s.createCalls)
	assert.Equal(t, StatusSynced, res.Status)
	assert.Zero(t, p.promptCalls, "repair must not prompt the user")
	require.NotNil(t, s.record)
	assert.Equal(t, "https://push.example.com/send/x", s.record.Endpoint)
}

func TestEnableFromDefaultPermission(t *testing.T) {
	p := &fakePlatform{
		permission:   platform.PermissionDefault,
		promptResult: platform.PermissionGranted,
	}
	s := &fakeServer{}
	engine := newTestEngine(p, s)

	res := engine.Enable(context.Background())

	assert.Equal(t, 1, p.promptCalls)
	assert.Equal(t, 1, p.createCalls)
	assert.Equal(t, 1, s.createCalls)
	assert.Equal(t, StatusSynced, res.Status)
	assert.Equal(t, platform.PermissionGranted, res.Permission)
	assert.True(t, res.BrowserSubscribed)
	assert.True(t, res.ServerSynced)

	rec, err := s.GetPreferences(context.Background())
	require.NoError(t, err)
	for _, c := range prefs.Categories {
		assert.True(t, rec.Enabled(c), "category %s defaults on", c)
	}
}

func TestEnableDeclinedAtPrompt(t *testing.T) {
	p := &fakePlatform{
		permission:   platform.PermissionDefault,
		promptResult: platform.PermissionDenied,
	}
	s := &fakeServer{}
	engine := newTestEngine(p, s)

	res := engine.Enable(context.Background())

	assert.Equal(t, StatusBlocked, res.Status)
	assert.NoError(t, res.Err)
	assert.Zero(t, p.createCalls)
	assert.Zero(t, s.createCalls)
}

func TestEnableWhileDeniedIsTerminal(t *testing.T) {
	p := &fakePlatform{permission: platform.PermissionDenied}
	engine := newTestEngine(p, &fakeServer{})

	res := engine.Enable(context.Background())

	assert.Equal(t, StatusBlocked, res.Status)
	assert.True(t, errors.Is(res.Err, errors.ErrPermission))
	assert.Zero(t, p.promptCalls, "denied permission cannot be re-prompted")
}

func TestEnableRecordFailureLeavesRepairableState(t *testing.T) {
	p := &fakePlatform{permission: platform.PermissionGranted}
	s := &fakeServer{createRecordErr: errors.Wrap(errors.ErrNetwork, "timeout")}
	engine := newTestEngine(p, s)

	res := engine.Enable(context.Background())

	assert.Equal(t, StatusRepairNeeded, res.Status)
	assert.True(t, errors.IsRetryable(res.Err), "user-initiated failure is surfaced")
	require.NotNil(t, p.subscription, "subscription survives for the repair path")

	s.createRecordErr = nil
	next := engine.Run(context.Background(), TriggerRefocus)
	assert.Equal(t, StatusSynced, next.Status)
	assert.Equal(t, 1, p.createCalls, "repair reuses the existing subscription")
}

func TestDisableTwiceDoesNotError(t *testing.T) {
	p := &fakePlatform{
		permission:   platform.PermissionGranted,
		subscription: &platform.Subscription{Endpoint: "https://push.example.com/send/x"},
	}
	s := &fakeServer{record: &platform.Subscription{Endpoint: "https://push.example.com/send/x"}}
	engine := newTestEngine(p, s)

	res := engine.Disable(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, StatusDisabled, res.Status)

	res = engine.Disable(context.Background())
	require.NoError(t, res.Err, "double disable is a no-op, not an error")
	assert.Equal(t, StatusDisabled, res.Status)
}

func TestToggleRollsBackOnValidationFailure(t *testing.T) {
	p := &fakePlatform{permission: platform.PermissionGranted}
	rec := prefs.Default()
	s := &fakeServer{prefsRecord: &rec, patchErr: errors.Wrap(errors.ErrValidation, "unknown key")}
	engine := newTestEngine(p, s)

	off := false
	shown, err := engine.Toggle(context.Background(), rec, prefs.Patch{DeadlineReminder: &off})

	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.True(t, shown.Enabled(prefs.DeadlineReminder), "displayed value reverts to prior state")
}

func TestReadFailureDefersWithoutActing(t *testing.T) {
	p := &fakePlatform{
		permission:   platform.PermissionGranted,
		subscription: &platform.Subscription{Endpoint: "https://push.example.com/send/x"},
	}
	s := &fakeServer{getPrefsTransient: errors.Wrap(errors.ErrNetwork, "server unreachable")}
	engine := newTestEngine(p, s)

	res := engine.Run(context.Background(), TriggerLoad)

	assert.NoError(t, res.Err)
	assert.Zero(t, s.createCalls, "no corrective call on an unreadable server state")

	s.getPrefsTransient = nil
	res = engine.Run(context.Background(), TriggerRefocus)
	assert.Equal(t, StatusSynced, res.Status)
	assert.Equal(t, 1, s.createCalls)
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name   string
		obs    Observation
		status Status
		action Action
	}{
		{"unsupported", Observation{Permission: platform.PermissionUnsupported}, StatusUnsupported, ActionNone},
		{"undecided", Observation{Permission: platform.PermissionDefault}, StatusNeedsPermission, ActionNone},
		{"denied", Observation{Permission: platform.PermissionDenied}, StatusBlocked, ActionNone},
		{"granted unsubscribed", Observation{Permission: platform.PermissionGranted}, StatusDisabled, ActionNone},
		{"drift", Observation{Permission: platform.PermissionGranted, BrowserSubscribed: true}, StatusRepairNeeded, ActionRepair},
		{"converged", Observation{Permission: platform.PermissionGranted, BrowserSubscribed: true, ServerSynced: true}, StatusSynced, ActionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, action := Decide(tc.obs)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.action, action)
		})
	}
}
