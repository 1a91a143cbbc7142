package notifier

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is an explicit retry schedule: bounded attempts with
// exponential backoff and full jitter. Applied uniformly at the notifier
// boundary instead of ad hoc sleep loops at each call site.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the backend's tolerance: three attempts, one
// second base, one minute cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Delay returns the wait before the given 1-based attempt's retry, jittered
// in [0, base*2^(attempt-1)] and capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = time.Minute
	}

	delay := base << (attempt - 1)
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}
	if rng == nil {
		return delay
	}
	return time.Duration(rng.Int63n(int64(delay) + 1))
}

// Do runs fn up to MaxAttempts times, sleeping the jittered delay between
// attempts. Returns nil on the first success; otherwise the last error.
// Context cancellation cuts the schedule short.
func (p RetryPolicy) Do(ctx context.Context, rng *rand.Rand, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt, rng)):
		}
	}
	return lastErr
}
