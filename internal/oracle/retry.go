package oracle

import (
	"context"
	"fmt"
	"time"
)

const maxRetryDelay = 5 * time.Second

// withRetry calls fn until it succeeds, doubling the wait between attempts up
// to maxRetryDelay. A cancelled context ends the loop with ctx.Err().
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	maxRetries = max(maxRetries, 0)
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := min(baseDelay, maxRetryDelay)
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt > maxRetries {
			if attempt == 1 {
				return err
			}
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxRetryDelay)
	}
}
