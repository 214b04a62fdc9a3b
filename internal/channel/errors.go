package channel

import "errors"

// Sentinel errors for channel operations.
var (
	// ErrNoChannel means no channel is registered under the target name.
	ErrNoChannel = errors.New("channel: unknown channel")

	// ErrDuplicateChannel means the name is already registered.
	ErrDuplicateChannel = errors.New("channel: duplicate channel name")

	// ErrNoInbox means SetInbox was never called.
	ErrNoInbox = errors.New("channel: inbox not set")

	// ErrUnsupported means the channel cannot perform the operation.
	ErrUnsupported = errors.New("channel: operation not supported")
)
