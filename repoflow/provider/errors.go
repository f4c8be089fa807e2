package provider

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError marks a throttled platform call. The
// adapter never retries; the caller may back off using
// RetryAfter when the platform reported one.
type RateLimitError struct {
	// RetryAfter is the platform-suggested wait, zero
	// when not reported.
	RetryAfter time.Duration
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf(
			"rate limited (retry after %s): %v",
			e.RetryAfter, e.Err,
		)
	}

	return fmt.Sprintf("rate limited: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the error chain carries a
// rate limit rejection.
func IsRateLimited(err error) bool {
	var rl *RateLimitError

	return errors.As(err, &rl)
}
