package skycache

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// jitterFactor spreads concurrent retriers so they do not re-collide on the
// same conditional write.
const jitterFactor = 0.2

// retryDelay returns the pause before re-running a conflicted write.
// attempt is 0-based: base * 2^attempt, jittered, capped at max.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))

	jitter := backoff * jitterFactor * (rand.Float64() - 0.5) * 2
	delay := time.Duration(backoff + jitter)

	if delay > max {
		delay = max
	}
	if delay < 0 {
		delay = max
	}
	return delay
}

// sleep blocks for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
