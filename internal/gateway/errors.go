package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when an invocation exceeds its deadline. The
	// call is abandoned and its concurrency slot released.
	ErrTimeout = errors.New("gateway: timeout")

	// ErrRemote is returned when a back end answered with a failure or a
	// response that could not be understood.
	ErrRemote = errors.New("gateway: remote error")

	// ErrConfig is returned when no back end serves a kind, or the back end
	// lacks a credential or endpoint.
	ErrConfig = errors.New("gateway: not configured")

	// ErrDuplicateKind is returned when two back ends claim the same kind.
	ErrDuplicateKind = errors.New("gateway: kind already registered")
)

// maxErrorBody bounds the response body kept in a RemoteError.
const maxErrorBody = 512

// RemoteError carries the status and body of a failed back-end response.
type RemoteError struct {
	Backend string
	Status  int
	Body    string
}

// NewRemoteError builds a RemoteError, truncating body.
func NewRemoteError(backend string, status int, body []byte) *RemoteError {
	if len(body) > maxErrorBody {
		body = append(body[:maxErrorBody:maxErrorBody], "..."...)
	}
	return &RemoteError{Backend: backend, Status: status, Body: string(body)}
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Backend, e.Body)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Backend, e.Status, e.Body)
}

// Unwrap makes errors.Is(err, ErrRemote) hold for every RemoteError.
func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrRemote):
		return "remote"
	default:
		return "canceled"
	}
}
