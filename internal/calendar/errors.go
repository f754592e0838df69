package calendar

import (
	"errors"
	"fmt"
)

// Failure kinds for the sync engine. Callers match with errors.Is; the
// operation-coded Error below carries one of these alongside its cause.
var (
	// ErrRemoteAuth indicates expired or invalid remote credentials. It is
	// terminal for the fetch step and requires reauthorization.
	ErrRemoteAuth = errors.New("calendar: remote credentials invalid or expired")
	// ErrRemoteAPI indicates a transient provider-side failure, including
	// request timeouts.
	ErrRemoteAPI = errors.New("calendar: remote provider failure")
	// ErrLocalPersistence indicates a local store read or write failure.
	ErrLocalPersistence = errors.New("calendar: local store failure")
	// ErrMapping indicates an event representation the adapter cannot
	// translate (unsupported recurrence, malformed boundaries).
	ErrMapping = errors.New("calendar: unsupported event representation")
	// ErrNotFound indicates an unknown or unauthorized event or session.
	ErrNotFound = errors.New("calendar: not found")
	// ErrSyncInProgress indicates another sync run is active for the owner.
	ErrSyncInProgress = errors.New("calendar: sync already running for this user")
)

// Error is an operation-coded failure. The code identifies the operation
// and reason ("calendar.pull.fetch_failed"), kind is one of the sentinel
// errors above, and cause is the underlying failure when present.
type Error struct {
	code  string
	kind  error
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.cause)
}

// Unwrap exposes both the failure kind and the cause for errors.Is/As.
func (e *Error) Unwrap() []error {
	targets := make([]error, 0, 2)
	if e.kind != nil {
		targets = append(targets, e.kind)
	}
	if e.cause != nil {
		targets = append(targets, e.cause)
	}
	return targets
}

// Code returns the operation code.
func (e *Error) Code() string {
	return e.code
}

func newError(operation, reason string, kind, cause error) error {
	return &Error{
		code:  fmt.Sprintf("%s.%s", operation, reason),
		kind:  kind,
		cause: cause,
	}
}
