// Package retry provides a time-bounded polling primitive.
// Time is read through a Clock so tests can run without real delays.
package retry

import (
	"context"
	"time"
)

// =============================================================================
// Clock
// =============================================================================

// Clock is the time source used by Poll.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock reads the system clock and sleeps on timers.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// Poll
// =============================================================================

// Probe is one readiness attempt. It reports ok=false while the target is not
// ready yet; transient failures are not errors.
type Probe[T any] func(ctx context.Context) (T, bool)

// Poll calls probe every interval until it succeeds or timeout elapses.
// The returned bool is false when the deadline passed (or ctx ended) first.
func Poll[T any](ctx context.Context, clock Clock, interval, timeout time.Duration, probe Probe[T]) (T, bool) {
	var zero T
	if clock == nil {
		clock = RealClock{}
	}

	deadline := clock.Now().Add(timeout)
	for {
		start := clock.Now()
		if !start.Before(deadline) {
			return zero, false
		}

		if v, ok := probe(ctx); ok {
			return v, true
		}

		wait := max(interval-clock.Now().Sub(start), 0)
		if err := clock.Sleep(ctx, wait); err != nil {
			return zero, false
		}
	}
}

// Until is Poll for probes that only report readiness.
func Until(ctx context.Context, clock Clock, interval, timeout time.Duration, probe func(ctx context.Context) bool) bool {
	_, ok := Poll(ctx, clock, interval, timeout, func(ctx context.Context) (struct{}, bool) {
		return struct{}{}, probe(ctx)
	})
	return ok
}
