package access

import "errors"

var (
	// ErrForbidden is returned when an operation targets a protected
	// principal or the caller lacks the required capability.
	ErrForbidden = errors.New("access: forbidden")

	// ErrNotFound is returned when a referenced handle or user is absent.
	ErrNotFound = errors.New("access: not found")

	// ErrIO is returned when persisting the state failed. The in-memory
	// state is left as it was before the call.
	ErrIO = errors.New("access: persistence failed")

	// ErrInvalidHandle is returned for handles that are not "@name" with a
	// name of 1 to 32 letters, digits or underscores.
	ErrInvalidHandle = errors.New("access: invalid handle")

	// ErrUnknownCapability is returned for names outside the capability vocabulary.
	ErrUnknownCapability = errors.New("access: unknown capability")

	// ErrNoBootstrapAdmin is returned when a store is built without any
	// bootstrap administrator.
	ErrNoBootstrapAdmin = errors.New("access: at least one bootstrap admin is required")

	// ErrNoState is returned by a Persister when nothing has been saved yet.
	ErrNoState = errors.New("access: no persisted state")
)
