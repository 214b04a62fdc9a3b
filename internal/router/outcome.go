package router

import (
	"errors"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/security"
)

// OutcomeKind classifies what the router did with one event.
type OutcomeKind string

// Every event yields exactly one of these.
const (
	// OutcomeRejected means the event was refused: banned or muted sender,
	// missing capability, flood limit or malformed input.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomePrompted means the router moved the sender into an awaited
	// state, or showed a menu, and asked for more input.
	OutcomePrompted OutcomeKind = "prompted"
	// OutcomeAction means a handler ran. Err holds its failure, if any.
	OutcomeAction OutcomeKind = "action"
	// OutcomeIgnored means the event was dropped without a reply.
	OutcomeIgnored OutcomeKind = "ignored"
)

// Outcome is the result of Handle.
type Outcome struct {
	Kind OutcomeKind
	// Action names the command, button action or awaited kind that ran.
	Action string
	Err    error
	// Broadcast is set by fan-out actions: relay, broadcast, impersonation.
	Broadcast *BroadcastSummary
}

func rejected(action string, err error) Outcome {
	return Outcome{Kind: OutcomeRejected, Action: action, Err: err}
}

func prompted(action string) Outcome {
	return Outcome{Kind: OutcomePrompted, Action: action}
}

func ignored(action string) Outcome {
	return Outcome{Kind: OutcomeIgnored, Action: action}
}

// done builds the outcome of a handler that ran. Authorization failures
// and input that does not parse are reported as rejections.
func done(action string, err error) Outcome {
	if isRejection(err) {
		return rejected(action, err)
	}
	return Outcome{Kind: OutcomeAction, Action: action, Err: err}
}

func isRejection(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, access.ErrForbidden),
		errors.Is(err, access.ErrInvalidHandle),
		errors.Is(err, access.ErrUnknownCapability),
		errors.Is(err, ErrMalformed),
		errors.Is(err, ErrBanned),
		errors.Is(err, ErrMuted),
		errors.Is(err, ErrNoHandle),
		errors.Is(err, security.ErrRateLimited):
		return true
	}
	return false
}
