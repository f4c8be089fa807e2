// Package errs defines the stable error kinds shared
// across the repository workflow surface. Every failure
// leaving the core carries one of these kinds so callers
// can branch on errors.Is/As without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow failure.
type Kind int

const (
	// KindUnknown is the zero value for unclassified
	// failures.
	KindUnknown Kind = iota
	// KindAuth covers missing, invalid, or expired
	// credentials.
	KindAuth
	// KindNotFound covers absent repositories, branches,
	// and records.
	KindNotFound
	// KindConflict covers non-fast-forward pushes after
	// retry and pull requests stuck in a non-reusable
	// state.
	KindConflict
	// KindBusy signals a concurrent clone or push already
	// in flight for the same record.
	KindBusy
	// KindProvider covers remote hosting API failures,
	// rate-limited or not.
	KindProvider
	// KindClone covers git clone failures.
	KindClone
	// KindPush covers git push failures.
	KindPush
	// KindCommit covers git commit failures, including
	// nothing-to-commit.
	KindCommit
	// KindInvalidArgument covers missing required
	// provider, token, or branch input.
	KindInvalidArgument
)

// String returns a stable identifier for the kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBusy:
		return "repository_busy"
	case KindProvider:
		return "provider"
	case KindClone:
		return "clone"
	case KindPush:
		return "push"
	case KindCommit:
		return "commit"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Error is a kinded error with a human-readable detail
// message and an optional underlying cause.
type Error struct {
	// Kind is the stable classification.
	Kind Kind
	// Msg is the human-readable detail string.
	Msg string
	// Err is the underlying cause, may be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}

	return fmt.Sprintf(
		"%s: %s: %v", e.Kind, e.Msg, e.Err,
	)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a kinded error. err may be nil.
func E(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Ef builds a kinded error with a formatted message and no
// underlying cause.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// KindOf walks the error chain and returns the kind of the
// outermost *Error, or KindUnknown when none is present.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}

	return KindUnknown
}

// IsKind reports whether the error chain carries the given
// kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
