// Package store provides SQLite-backed persistence for the server's half of
// the push state: subscription records mirroring platform subscriptions,
// per-user preferences, and the bearer tokens the API accepts.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/peergrade/pushsync/errors"
)

// SubscriptionRecord is the server-side mirror of a platform subscription,
// keyed by (user_id, endpoint).
type SubscriptionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dh_key"`
	AuthKey   string    `json:"auth_key"`
	UserAgent *string   `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscriptionStore provides storage operations for subscription records
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a new subscription store
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Upsert creates or refreshes the record for (userID, endpoint). Repeated
// subscribe calls for the same endpoint update the keys in place instead of
// accumulating duplicates, which makes the client's repair path safe to
// retry.
func (s *SubscriptionStore) Upsert(ctx context.Context, rec *SubscriptionRecord) error {
	now := time.Now()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, user_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, endpoint) DO UPDATE SET
			p256dh_key = excluded.p256dh_key,
			auth_key = excluded.auth_key,
			user_agent = excluded.user_agent,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Endpoint, rec.P256dhKey, rec.AuthKey, rec.UserAgent,
		rec.CreatedAt.Format(time.RFC3339Nano),
		rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert subscription for user %s", rec.UserID)
	}

	return nil
}

// Get returns the record for (userID, endpoint), or errors.ErrNotFound.
func (s *SubscriptionStore) Get(ctx context.Context, userID, endpoint string) (*SubscriptionRecord, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh_key, auth_key, user_agent, created_at, updated_at
		FROM push_subscriptions
		WHERE user_id = ? AND endpoint = ?
	`

	rec, err := scanSubscription(s.db.QueryRowContext(ctx, query, userID, endpoint))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no subscription for endpoint %s", endpoint)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get subscription")
	}

	return rec, nil
}

// ListByUser returns every subscription record for a user, newest first.
func (s *SubscriptionStore) ListByUser(ctx context.Context, userID string) ([]*SubscriptionRecord, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh_key, auth_key, user_agent, created_at, updated_at
		FROM push_subscriptions
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list subscriptions for user %s", userID)
	}
	defer rows.Close()

	var records []*SubscriptionRecord
	for rows.Next() {
		rec, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan subscription row")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes the record for (userID, endpoint). A missing record is not
// an error: unsubscribe is idempotent from the caller's perspective.
func (s *SubscriptionStore) Delete(ctx context.Context, userID, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?",
		userID, endpoint,
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete subscription")
	}
	return nil
}

// CountByUser returns how many subscriptions a user has.
func (s *SubscriptionStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM push_subscriptions WHERE user_id = ?", userID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count subscriptions")
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*SubscriptionRecord, error) {
	var rec SubscriptionRecord
	var createdAt, updatedAt string

	err := row.Scan(&rec.ID, &rec.UserID, &rec.Endpoint, &rec.P256dhKey, &rec.AuthKey,
		&rec.UserAgent, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rec, nil
}
