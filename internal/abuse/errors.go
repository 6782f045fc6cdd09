package abuse

import (
	"fmt"
	"time"
)

// AccessDeniedError is returned for blocked actors, including actors that
// were blocked by this very request for suspicious activity.
type AccessDeniedError struct {
	Reason       string
	BlockedUntil *time.Time

	cause error
}

func (e *AccessDeniedError) Error() string {
	if e.BlockedUntil == nil {
		return fmt.Sprintf("access denied: %s", e.Reason)
	}
	return fmt.Sprintf("access denied until %s: %s", e.BlockedUntil.UTC().Format(time.RFC3339), e.Reason)
}

func (e *AccessDeniedError) Unwrap() error { return e.cause }

// RetryAfter is zero for permanent blocks.
func (e *AccessDeniedError) RetryAfter(now time.Time) time.Duration {
	if e.BlockedUntil == nil {
		return 0
	}
	return ceilSeconds(e.BlockedUntil.Sub(now))
}

type RateLimitedError struct {
	ActionType string
	Limit      int
	Remaining  int
	ResetAt    time.Time

	cause error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s limit of %d reached, resets at %s", e.ActionType, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitedError) Unwrap() error { return e.cause }

func (e *RateLimitedError) RetryAfter(now time.Time) time.Duration {
	return ceilSeconds(e.ResetAt.Sub(now))
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1) / time.Second * time.Second
}
