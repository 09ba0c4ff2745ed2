// Package clock provides helpers for time-related operations.
package clock

import (
	"context"
	"time"
)

// SleepWithContext waits for the duration or returns early if the context is canceled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff computes reconnect delays: Initial doubled per attempt, capped at
// Max. It is a pure schedule so that retry behavior is testable without
// real network I/O.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is the schedule used by chain subscribers.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Interval returns the delay before retry number attempt (0-based).
func (b Backoff) Interval(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	max := b.Max
	if max < initial {
		max = initial
	}
	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
