package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moltguard/internal/config"
)

// ErrUnknownAction is returned for action types that have no policy.
var ErrUnknownAction = errors.New("ratelimit: unknown action type")

// CounterStore holds one counter per (actor, action type, window start).
// IncrementWindow must be atomic with respect to concurrent callers.
type CounterStore interface {
	CountWindow(ctx context.Context, actor, actionType string, windowStart time.Time) (int, error)
	IncrementWindow(ctx context.Context, actor, actionType string, windowStart, windowEnd time.Time) error
}

type Policy struct {
	Limit  int
	Window time.Duration
}

// PolicyTable resolves the policy for an action type.
type PolicyTable func(actionType string) (Policy, bool)

// ConfigPolicies reads the policy table from the live configuration on every
// lookup, so settings updates apply without rebuilding the limiter.
func ConfigPolicies() PolicyTable {
	return func(actionType string) (Policy, bool) {
		limit, ok := config.GetConfig().RateLimits[actionType]
		if !ok || limit.Limit <= 0 {
			return Policy{}, false
		}
		window := limit.Window.Duration()
		if window <= 0 {
			return Policy{}, false
		}
		return Policy{Limit: limit.Limit, Window: window}, true
	}
}

// StaticPolicies serves a fixed table.
func StaticPolicies(table map[string]Policy) PolicyTable {
	return func(actionType string) (Policy, bool) {
		policy, ok := table[actionType]
		return policy, ok
	}
}

type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter is the wait until the window resets, rounded up to whole seconds.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return (wait + time.Second - 1) / time.Second * time.Second
}

type Options struct {
	Policies PolicyTable
	Now      func() time.Time
}

// Limiter enforces fixed, epoch-aligned windows. A burst of up to twice the
// limit is possible across a window boundary.
type Limiter struct {
	store    CounterStore
	policies PolicyTable
	now      func() time.Time
}

func NewLimiter(store CounterStore, opts Options) *Limiter {
	if opts.Policies == nil {
		opts.Policies = ConfigPolicies()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Limiter{store: store, policies: opts.Policies, now: opts.Now}
}

// WindowBounds returns the window containing now, aligned to multiples of
// window since the unix epoch.
func WindowBounds(now time.Time, window time.Duration) (time.Time, time.Time) {
	size := int64(window / time.Second)
	if size <= 0 {
		size = 1
	}
	unix := now.Unix()
	start := unix - unix%size
	return time.Unix(start, 0).UTC(), time.Unix(start+size, 0).UTC()
}

// Check reads the current window without changing it. When the counter
// store fails the returned decision denies the action.
func (l *Limiter) Check(ctx context.Context, actor, actionType string) (Decision, error) {
	policy, ok := l.policies(actionType)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}

	start, end := WindowBounds(l.now(), policy.Window)
	count, err := l.store.CountWindow(ctx, actor, actionType, start)
	if err != nil {
		return Decision{Allowed: false, Remaining: 0, Limit: policy.Limit, ResetAt: end},
			fmt.Errorf("ratelimit: read window for %s/%s: %w", actor, actionType, err)
	}

	remaining := policy.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count < policy.Limit,
		Remaining: remaining,
		Limit:     policy.Limit,
		ResetAt:   end,
	}, nil
}

// Record counts one performed action against the current window.
func (l *Limiter) Record(ctx context.Context, actor, actionType string) error {
	policy, ok := l.policies(actionType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}

	start, end := WindowBounds(l.now(), policy.Window)
	if err := l.store.IncrementWindow(ctx, actor, actionType, start, end); err != nil {
		return fmt.Errorf("ratelimit: record %s/%s: %w", actor, actionType, err)
	}
	return nil
}

// Known reports whether actionType has a policy.
func (l *Limiter) Known(actionType string) bool {
	_, ok := l.policies(actionType)
	return ok
}
