package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/prefs"
)

// PreferenceStore provides storage operations for per-user delivery
// preferences.
type PreferenceStore struct {
	db *sql.DB
}

// NewPreferenceStore creates a new preference store
func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Get returns the user's preference record, or errors.ErrNotFound when the
// user has never subscribed.
func (s *PreferenceStore) Get(ctx context.Context, userID string) (*prefs.Record, error) {
	var rec prefs.Record
	err := s.db.QueryRowContext(ctx, `
		SELECT push_review_received, push_deadline_reminder, push_feedback_received, push_meta_review
		FROM push_preferences
		WHERE user_id = ?
	`, userID).Scan(&rec.ReviewReceived, &rec.DeadlineReminder, &rec.FeedbackReceived, &rec.MetaReview)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no preferences for user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get preferences")
	}
	return &rec, nil
}

// EnsureDefaults lazily creates the user's preference row with every
// category on. Existing rows are left untouched, so a repeated subscribe
// never resets explicit choices.
func (s *PreferenceStore) EnsureDefaults(ctx context.Context, userID string) (*prefs.Record, error) {
	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_preferences (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to ensure preference defaults")
	}
	return s.Get(ctx, userID)
}

// Patch applies a partial update and returns the stored record. ErrNotFound
// when no row exists; validation of the patch payload happens before this
// layer.
func (s *PreferenceStore) Patch(ctx context.Context, userID string, patch prefs.Patch) (*prefs.Record, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	updated := patch.Apply(*current)
	_, err = s.db.ExecContext(ctx, `
		UPDATE push_preferences
		SET push_review_received = ?, push_deadline_reminder = ?, push_feedback_received = ?, push_meta_review = ?, updated_at = ?
		WHERE user_id = ?
	`, updated.ReviewReceived, updated.DeadlineReminder, updated.FeedbackReceived, updated.MetaReview,
		time.Now().Format(time.RFC3339Nano), userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to patch preferences")
	}

	return &updated, nil
}
