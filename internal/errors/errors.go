// Package errors defines the domain error taxonomy shared by every
// Teaclave component (KV store, repository, task state machine,
// Management, Scheduler). RPC-facing layers switch on Kind to decide
// whether to retry internally, surface a precondition failure, or
// drop the detail before it reaches a caller (spec §7).
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind int

const (
	// Internal is the zero value: an unclassified failure.
	Internal Kind = iota
	NotFound
	PermissionDenied
	InvalidTaskState
	InvalidArgument
	// Stale means a compare-and-swap lost a race; callers retry
	// internally, making at most three attempts in all, before giving up.
	Stale
	StorageUnavailable
	SchedulerUnavailable
	WorkerLost
	LeaseExpired
	AttestationFailed
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case PermissionDenied:
		return "PermissionDenied"
	case InvalidTaskState:
		return "InvalidTaskState"
	case InvalidArgument:
		return "InvalidArgument"
	case Stale:
		return "Stale"
	case StorageUnavailable:
		return "StorageUnavailable"
	case SchedulerUnavailable:
		return "SchedulerUnavailable"
	case WorkerLost:
		return "WorkerLost"
	case LeaseExpired:
		return "LeaseExpired"
	case AttestationFailed:
		return "AttestationFailed"
	default:
		return "Internal"
	}
}

// Error is a Kind-tagged, wrappable domain error.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "management.InvokeTask"
	Message string
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a domain error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs a domain error around an existing cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf extracts the Kind from err, returning Internal if err is nil
// or isn't a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return Internal
	}
	return Internal
}

// Is reports whether err is a domain error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
