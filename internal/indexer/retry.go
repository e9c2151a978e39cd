package indexer

import (
	"context"
	"time"

	"carto/internal/config"
)

// retryWithBackoff runs fn up to MaxAttempts times with exponential backoff
// between failures. Context cancellation aborts immediately and is never
// retried.
func retryWithBackoff[T any](ctx context.Context, cfg config.RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := time.Duration(cfg.BaseDelayMs) * time.Millisecond
	maxDelay := time.Duration(cfg.MaxDelayMs) * time.Millisecond

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * cfg.Multiplier)
				if backoff > maxDelay {
					backoff = maxDelay
				}
			}
		}
	}

	return zero, lastErr
}
