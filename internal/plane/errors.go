package plane

import (
	"errors"
	"fmt"
)

// Kind classifies a data plane error. The migration core keys its retry and
// abort policy off the kind, never off backend-specific error text.
type Kind string

const (
	KindTableNotFound       Kind = "table_not_found"
	KindConstraintViolation Kind = "constraint_violation"
	KindConnectivityLost    Kind = "connectivity_lost"
	KindPermissionDenied    Kind = "permission_denied"
	KindRateLimited         Kind = "rate_limited"
	KindTimedOut            Kind = "timed_out"
)

// Error is the uniform error surface of every Plane implementation.
type Error struct {
	Kind  Kind
	Table string
	Code  string // backend-specific code, e.g. a constraint name
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("plane: %s", e.Kind)
	if e.Table != "" {
		msg += fmt.Sprintf(" (table %s)", e.Table)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and table context.
func NewError(kind Kind, table string, err error) *Error {
	return &Error{Kind: kind, Table: table, Err: err}
}

// KindOf extracts the kind from an error chain. Returns "" for errors that
// did not originate in a plane.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given plane error kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error is transient: connectivity loss, rate
// limiting, and timeouts may be retried by the caller. The plane itself
// never retries.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConnectivityLost, KindRateLimited, KindTimedOut:
		return true
	}
	return false
}

// Aborting reports whether the error must abort the remainder of a
// multi-table operation rather than continue with the next table.
func Aborting(err error) bool {
	switch KindOf(err) {
	case KindPermissionDenied, KindConnectivityLost:
		return true
	}
	return false
}
