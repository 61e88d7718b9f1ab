package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to the gateway layer
var (
	// ErrUnauthorizedThread means the user's session did not pass the
	// thread-access check. The check is advisory (the remote API enforces
	// the real boundary via the bearer token), so the UI answer is
	// "no permission for this conversation, start a new one".
	ErrUnauthorizedThread = errors.New("no permission for this conversation")

	// ErrNoResponse means a completed run produced no assistant message
	ErrNoResponse = errors.New("no assistant response in thread")

	// ErrStreamActive means a second stream was requested while one is
	// already in flight. At most one stream runs at a time.
	ErrStreamActive = errors.New("a streaming request is already in progress")

	// ErrQuotaExceeded is returned by the key-value store when a write
	// would cross the configured capacity ceiling.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// SessionCreationError wraps a failure to create a new user session
type SessionCreationError struct {
	UserID string
	Err    error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("failed to create session for user %s: %v", e.UserID, e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// TransportError wraps a non-success response from the remote API
type TransportError struct {
	Op     string
	Status int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: remote API returned status %d", e.Op, e.Status)
}

// IsNotFound reports whether err is a remote 404. Bulk deletion treats
// 404 as already-deleted.
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Status == 404
}

// TimeoutError means a poll loop exhausted its attempt budget
type TimeoutError struct {
	Op         string
	LastStatus string
	Attempts   int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %d attempts (last status: %s)", e.Op, e.Attempts, e.LastStatus)
}

// ValidationError rejects an upload before it reaches the remote API
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
