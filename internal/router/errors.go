// Package router turns inbound chat events into exactly one outcome each:
// a rejection, a prompt, a delegated action, or silence. It owns command
// and button dispatch, the awaited-input flows and the moderation overlay.
package router

import "errors"

// Sentinel errors for router operations.
var (
	// ErrInboxFull means the inbox is at capacity and the event was dropped.
	ErrInboxFull = errors.New("router: inbox full, message dropped")

	// ErrRouterStopped means the router no longer accepts events.
	ErrRouterStopped = errors.New("router: stopped")

	// ErrNoStore means Config.Store is nil.
	ErrNoStore = errors.New("router: no access store configured")

	// ErrNoResponseSender means Config.Sender is nil.
	ErrNoResponseSender = errors.New("router: no response sender configured")

	// ErrMalformed marks button payloads and typed input that do not parse.
	ErrMalformed = errors.New("router: malformed input")

	// ErrBanned and ErrMuted are the rejection causes for silenced principals.
	ErrBanned = errors.New("router: principal is banned")
	ErrMuted  = errors.New("router: principal is muted")

	// ErrNoHandle means the action needs a public username the sender lacks.
	ErrNoHandle = errors.New("router: sender has no username")
)
