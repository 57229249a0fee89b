package worker

import (
	"context"
	"fmt"
	"time"

	"kajabook/internal/domain"
)

// RetryPolicy controls how a failed reminder delivery is repeated.
// Zero fields take the defaults from withDefaults.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 3
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 2 * time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 30 * time.Second
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = 2
	}
	return r
}

// NextDelay is the pause after the given failed attempt (1-based), capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	r = r.withDefaults()
	d := r.InitialDelay
	for i := 1; i < attempt && d < r.MaxDelay; i++ {
		d = time.Duration(float64(d) * r.BackoffFactor)
	}
	return min(d, r.MaxDelay)
}

// Do calls fn until it succeeds, the attempts run out or ctx ends.
// Caller mistakes (validation, not found, conflict) are returned at once.
func (r RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	r = r.withDefaults()
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if domain.IsExpected(err) || attempt >= r.MaxRetries {
			return fmt.Errorf("after %d attempt(s): %w", attempt, err)
		}

		timer := time.NewTimer(r.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
