package generation

import (
	"context"
	"math/rand/v2"
	"time"
)

const maxRetryDelay = 30 * time.Second

// retryDelay doubles base per completed attempt, capped at maxRetryDelay,
// with up to 10% jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}
	if jitter := int64(delay / 10); jitter > 0 {
		delay += time.Duration(rand.Int64N(jitter))
	}
	return delay
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
