// Package errors provides error handling for pushsync.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNetwork) {
//	    // retry on next trigger
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors forming the pushsync failure taxonomy. Every platform
// and transport failure is converted to one of these at the operation
// boundary; the reconciliation engine only ever inspects these.
// Use with errors.Is(); wrap with errors.Wrap() to add context while
// preserving the type.
var (
	// ErrUnsupported indicates the platform lacks the required push APIs.
	// Terminal: no operation will ever succeed on this installation.
	ErrUnsupported = New("push unsupported on this platform")

	// ErrPermission indicates notification permission was denied. Terminal
	// until the user changes it outside the application; never re-prompt.
	ErrPermission = New("notification permission denied")

	// ErrConfig indicates operator misconfiguration (e.g. the server has no
	// VAPID key). Not user-recoverable and must not be retried in a loop.
	ErrConfig = New("server misconfigured")

	// ErrKey indicates malformed cryptographic key material. Fatal to the
	// current attempt; not retryable without a corrected key.
	ErrKey = New("invalid key material")

	// ErrNetwork indicates a transient transport failure, recoverable on
	// the next reconciliation trigger.
	ErrNetwork = New("network failure")

	// ErrValidation indicates a bad preference payload. The caller must
	// roll back any optimistic local update.
	ErrValidation = New("validation failed")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrUnauthorized indicates the request lacks proper authentication
	ErrUnauthorized = New("unauthorized")
)

// IsPermanent reports whether err is one of the terminal failures that no
// amount of retrying will fix (unsupported platform, denied permission,
// operator misconfiguration, bad key material).
func IsPermanent(err error) bool {
	return err != nil && IsAny(err, ErrUnsupported, ErrPermission, ErrConfig, ErrKey)
}

// IsRetryable reports whether err should be retried on the next trigger.
func IsRetryable(err error) bool {
	return err != nil && Is(err, ErrNetwork)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}
