package git

import (
	"errors"
	"fmt"
	"strings"

	"github.com/byte4ever/promptops/repoflow/errs"
)

// ErrNothingToCommit is returned by CommitAndPush when
// staging the requested paths produced no change.
var ErrNothingToCommit = errors.New("nothing to commit")

// PushError reports a failed push. NonFastForward is set
// when the remote rejected the push because it has moved
// ahead, so the caller can fetch-reset and retry instead
// of failing the user action outright.
type PushError struct {
	// NonFastForward marks a rejected fast-forward.
	NonFastForward bool
	// Output is the combined git output of the push.
	Output string
	// Err is the underlying execution error.
	Err error
}

// Error implements the error interface.
func (e *PushError) Error() string {
	if e.NonFastForward {
		return fmt.Sprintf(
			"push rejected (non-fast-forward): %v",
			e.Err,
		)
	}

	return fmt.Sprintf("push failed: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *PushError) Unwrap() error {
	return e.Err
}

// IsNonFastForward reports whether the error chain carries
// a non-fast-forward push rejection.
func IsNonFastForward(err error) bool {
	var pe *PushError
	if errors.As(err, &pe) {
		return pe.NonFastForward
	}

	return false
}

// classifyRemoteFailure inspects git output for the
// failure signatures of remote operations and returns the
// matching error kind. fallback is used when no signature
// matches.
func classifyRemoteFailure(
	output string,
	fallback errs.Kind,
) errs.Kind {
	lower := strings.ToLower(output)

	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "invalid username"),
		strings.Contains(lower, "could not read username"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "401"):
		return errs.KindAuth
	case strings.Contains(lower, "not found"),
		strings.Contains(
			lower, "couldn't find remote ref",
		):
		return errs.KindNotFound
	default:
		return fallback
	}
}

// isNonFastForwardOutput reports whether git push output
// indicates a rejected fast-forward.
func isNonFastForwardOutput(output string) bool {
	lower := strings.ToLower(output)

	return strings.Contains(lower, "non-fast-forward") ||
		strings.Contains(lower, "fetch first") ||
		strings.Contains(lower, "[rejected]")
}
