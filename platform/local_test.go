package platform

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/vapid"
)

func newTestPlatform(t *testing.T, prompt PromptFunc) *LocalPlatform {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "agent_state.json")
	return NewLocalPlatform(statePath, "http://localhost:8744", prompt, nil)
}

func grantAll(ctx context.Context) (bool, error) { return true, nil }
func denyAll(ctx context.Context) (bool, error)  { return false, nil }

func testVAPIDKey(t *testing.T) []byte {
	t.Helper()
	pair, err := vapid.GenerateKeyPair()
	require.NoError(t, err)
	raw, err := vapid.DecodeKey(pair.PublicKey)
	require.NoError(t, err)
	return raw
}

func TestReadDefaultsWithoutStateFile(t *testing.T) {
	p := newTestPlatform(t, nil)
	assert.Equal(t, PermissionDefault, p.Read())
}

func TestRequestGranted(t *testing.T) {
	p := newTestPlatform(t, grantAll)

	state, err := p.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, state)
	assert.Equal(t, PermissionGranted, p.Read())
}

func TestDeniedIsTerminal(t *testing.T) {
	calls := 0
	p := newTestPlatform(t, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	state, err := p.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, state)

	// A second request must not re-prompt.
	state, err = p.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, state)
	assert.Equal(t, 1, calls)
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	p := newTestPlatform(t, grantAll)

	h1, err := p.EnsureRegistered(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, h1.ID)

	h2, err := p.EnsureRegistered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h1.ID, h2.ID)
}

func TestExistsFalseWithoutRegistration(t *testing.T) {
	p := newTestPlatform(t, grantAll)

	exists, err := p.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateRequiresGrantedPermission(t *testing.T) {
	p := newTestPlatform(t, denyAll)
	_, _ = p.Request(context.Background())

	_, err := p.Create(context.Background(), testVAPIDKey(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPermission))
}

func TestCreateRejectsMalformedKey(t *testing.T) {
	p := newTestPlatform(t, grantAll)
	_, _ = p.Request(context.Background())

	_, err := p.Create(context.Background(), []byte{0x01, 0x02})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrKey))
}

func TestCreateThenExists(t *testing.T) {
	p := newTestPlatform(t, grantAll)
	_, _ = p.Request(context.Background())

	sub, err := p.Create(context.Background(), testVAPIDKey(t))
	require.NoError(t, err)
	assert.NotEmpty(t, sub.Endpoint)
	assert.NotEmpty(t, sub.P256dhKey)
	assert.NotEmpty(t, sub.AuthKey)

	exists, err := p.Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)

	// Subscription survives a new platform instance over the same state
	// file (the analog of a page reload).
	p2 := NewLocalPlatform(p.path, "http://localhost:8744", nil, nil)
	exists, err = p2.Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDestroyIsIdempotent(t *testing.T) {
	p := newTestPlatform(t, grantAll)
	_, _ = p.Request(context.Background())
	_, err := p.Create(context.Background(), testVAPIDKey(t))
	require.NoError(t, err)

	ok, err := p.Destroy(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	// Second destroy (double-click) must not error.
	ok, err = p.Destroy(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExternalRevocationObserved(t *testing.T) {
	p := newTestPlatform(t, grantAll)
	_, _ = p.Request(context.Background())
	_, err := p.Create(context.Background(), testVAPIDKey(t))
	require.NoError(t, err)

	// Simulate the platform revoking permission and garbage-collecting the
	// subscription from outside the app.
	data, err := os.ReadFile(p.path)
	require.NoError(t, err)
	var st map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &st))
	st["permission"] = json.RawMessage(`"denied"`)
	delete(st, "subscription")
	mutated, err := json.Marshal(st)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.path, mutated, 0600))

	assert.Equal(t, PermissionDenied, p.Read())
	exists, err := p.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUnsupportedPlatform(t *testing.T) {
	p := newTestPlatform(t, grantAll)
	p.SetSupported(false)

	assert.Equal(t, PermissionUnsupported, p.Read())

	_, err := p.Request(context.Background())
	assert.True(t, errors.Is(err, errors.ErrUnsupported))

	exists, err := p.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)
}
