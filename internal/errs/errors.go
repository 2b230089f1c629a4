// Package errs contains the error taxonomy shared by the stores, the call coordinator and the relay.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized    = fmt.Errorf("unauthorized")
	ErrNotFound        = fmt.Errorf("not found")
	ErrCallBusy        = fmt.Errorf("call already in progress")
	ErrStaleSignal     = fmt.Errorf("stale signal")
	ErrStorage         = fmt.Errorf("storage error")
	ErrInvalidIdentity = fmt.Errorf("invalid identity")
	ErrNotJoined       = fmt.Errorf("connection has not joined")
	ErrInvalidPayload  = fmt.Errorf("invalid payload")
)

// Storage wraps a persistence failure so callers can match it with errors.Is(err, ErrStorage)
func Storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Code maps an error to the code sent to the originating client in an error event.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCallBusy):
		return "call_busy"
	case errors.Is(err, ErrStaleSignal):
		return "stale_signal"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "internal"
	}
}

// Surfaced reports whether err should be reported back to the client that caused it.
// Stale signals and deletes of unknown ids are dropped silently.
func Surfaced(err error) bool {
	return err != nil && !errors.Is(err, ErrStaleSignal) && !errors.Is(err, ErrNotFound)
}
