package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/peergrade/pushsync/errors"
)

// TokenStore validates the bearer credentials the surrounding platform
// issues. pushsync never mints tokens for real users; Insert exists for
// operator tooling and tests.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a new token store
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Lookup resolves a bearer token to its user ID. Expired or unknown tokens
// fail with errors.ErrUnauthorized.
func (s *TokenStore) Lookup(ctx context.Context, token string) (string, error) {
	var userID string
	var expiresAt sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, expires_at FROM api_tokens WHERE token = ?", token,
	).Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return "", errors.Wrap(errors.ErrUnauthorized, "unknown token")
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to look up token")
	}

	if expiresAt.Valid && expiresAt.String != "" {
		expiry, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			// Fail closed: a token whose expiry cannot be read cannot be
			// trusted either.
			return "", errors.Wrapf(errors.ErrUnauthorized, "unreadable token expiry %q", expiresAt.String)
		}
		if time.Now().After(expiry) {
			return "", errors.Wrap(errors.ErrUnauthorized, "token expired")
		}
	}

	return userID, nil
}

// Insert registers a token for a user. A zero expiry means the token never
// expires.
func (s *TokenStore) Insert(ctx context.Context, token, userID string, expiresAt time.Time) error {
	var expiry interface{}
	if !expiresAt.IsZero() {
		expiry = expiresAt.Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO api_tokens (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiry,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert token for user %s", userID)
	}
	return nil
}
