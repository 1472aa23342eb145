// Package ratelimit implements fixed wall-clock window limits for write paths.
//
// Counter state lives behind CounterStore so the limiter can run against an
// in-process map or a shared Redis instance. Every call is counted, including
// rejected ones, so a client retrying in a loop cannot reset its window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy configures one limit, e.g. "10 reports per hour per reporter".
type Policy struct {
	Name        string
	Window      time.Duration
	MaxRequests int
}

// Validate checks the policy is usable
func (p Policy) Validate() error {
	if p.Name == "" {
		return errors.New("ratelimit: policy name is required")
	}
	if p.Window <= 0 {
		return fmt.Errorf("ratelimit: policy %s: window must be positive", p.Name)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit: policy %s: max requests must be positive", p.Name)
	}
	return nil
}

// Result describes a single admission decision
type Result struct {
	Allowed bool
	Count   int64
	Limit   int
	ResetAt time.Time
}

// RetryAfter returns how long until the current window ends
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// CounterStore atomically increments the counter for key within the window that
// starts at windowStart and returns the post-increment count. A store that sees a
// different window start for key must restart the count at 1.
type CounterStore interface {
	Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}

// Limiter admits or rejects calls per (policy, actor) pair
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// New creates a limiter backed by store
func New(store CounterStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the wall clock, for tests
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Admit counts one call for actorKey under policy. When the counter store fails the
// call is rejected and the error returned, so write paths fail closed.
func (l *Limiter) Admit(ctx context.Context, actorKey string, policy Policy) (Result, error) {
	now := l.now()
	windowStart := now.Truncate(policy.Window)
	res := Result{
		Limit:   policy.MaxRequests,
		ResetAt: windowStart.Add(policy.Window),
	}

	count, err := l.store.Increment(ctx, counterKey(policy.Name, actorKey), windowStart, policy.Window)
	if err != nil {
		return res, fmt.Errorf("ratelimit: increment %s: %w", policy.Name, err)
	}

	res.Count = count
	res.Allowed = count <= int64(policy.MaxRequests)
	return res, nil
}

func counterKey(policy, actorKey string) string {
	return policy + ":" + actorKey
}
