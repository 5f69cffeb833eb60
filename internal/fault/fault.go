// Package fault defines the error taxonomy shared by all planning
// components. The HTTP layer maps kinds to status codes; everything
// below it works in kinds, never in transport codes.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// InvalidInput covers malformed or out-of-range request data.
	InvalidInput Kind = "invalid_input"
	// ConstraintConflict covers structural invariant violations such as
	// duplicate locked positions.
	ConstraintConflict Kind = "constraint_conflict"
	// SlotMismatch means available seq slots != unlocked rows; callers
	// should normalize the plan and retry.
	SlotMismatch Kind = "slot_mismatch"
	// Infeasible means the solving port cannot satisfy the locks.
	Infeasible Kind = "infeasible"
	// UpstreamUnavailable covers persistent-store failures that cannot
	// be recovered locally.
	UpstreamUnavailable Kind = "upstream_unavailable"
	// Mismatch means a candidate result belongs to a different plan date.
	Mismatch Kind = "mismatch"
	// NotFound means a referenced row or result does not exist.
	NotFound Kind = "not_found"
	// Conflict means another Apply already holds the plan-date lock.
	Conflict Kind = "conflict"
)

// Error carries a machine-readable kind alongside a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(k Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the taxonomy kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool { return KindOf(err) == k }
