package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retry calls fn until it succeeds, returns a non retryable error, or the
// attempts run out. The wait between attempts doubles every time, starting
// from backoff.
func Retry(
	ctx context.Context, attempts int, backoff time.Duration,
	fn func(ctx context.Context) (retry bool, err error),
) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return fmt.Errorf("timed out: %w", lastErr)
				}
				return ctx.Err()
			case <-time.After(backoff << (i - 1)):
			}
		}

		retry, err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}
