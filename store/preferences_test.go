package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peergrade/pushsync/errors"
	pushtest "github.com/peergrade/pushsync/internal/testing"
	"github.com/peergrade/pushsync/prefs"
)

func TestPreferencesNotFoundBeforeSubscribe(t *testing.T) {
	db := pushtest.CreateTestDB(t)
	s := NewPreferenceStore(db)

	_, err := s.Get(context.Background(), "u-1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestEnsureDefaultsCreatesAllOn(t *testing.T) {
	db := pushtest.CreateTestDB(t)
	s := NewPreferenceStore(db)
	ctx := context.Background()

	rec, err := s.EnsureDefaults(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, prefs.Default(), *rec)
}

func TestEnsureDefaultsPreservesExplicitChoices(t *testing.T) {
	db := pushtest.CreateTestDB(t)
	s := NewPreferenceStore(db)
	ctx := context.Background()

	_, err := s.EnsureDefaults(ctx, "u-1")
	require.NoError(t, err)

	off := false
	_, err = s.Patch(ctx, "u-1", prefs.Patch{DeadlineReminder: &off})
	require.NoError(t, err)

	// A later re-subscribe must not reset the explicit opt-out.
	rec, err := s.EnsureDefaults(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, rec.DeadlineReminder)
	assert.True(t, rec.ReviewReceived)
}

func TestPatch(t *testing.T) {
	db := pushtest.CreateTestDB(t)
	s := NewPreferenceStore(db)
	ctx := context.Background()

	_, err := s.EnsureDefaults(ctx, "u-1")
	require.NoError(t, err)

	off := false
	rec, err := s.Patch(ctx, "u-1", prefs.Patch{MetaReview: &off})
	require.NoError(t, err)
	assert.False(t, rec.MetaReview)
	assert.True(t, rec.ReviewReceived)

	stored, err := s.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, *rec, *stored)
}

func TestPatchWithoutRecord(t *testing.T) {
	db := pushtest.CreateTestDB(t)
	s := NewPreferenceStore(db)

	on := true
	_, err := s.Patch(context.Background(), "u-1", prefs.Patch{ReviewReceived: &on})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
