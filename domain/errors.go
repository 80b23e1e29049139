package domain

import "errors"

// Failure taxonomy for structural mutations. OrderingConflict is retried
// internally by the mutation service; everything else propagates to the client
// sync agent, which rolls back optimistic state and surfaces a notice.
var (
	ErrNotFound         = errors.New("entity not found")
	ErrForbidden        = errors.New("actor is not a board member")
	ErrOrderingConflict = errors.New("neighbor order keys are stale")
	ErrConflict         = errors.New("conflicting concurrent mutation")
	ErrTimeout          = errors.New("request timed out")
	ErrTransportLost    = errors.New("event transport lost")
)

// ErrorKind translates an error into the wire-level errorKind value.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrOrderingConflict):
		return "conflict"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransportLost):
		return "transport-lost"
	default:
		return "internal"
	}
}
