package ingestion_engine

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/markdave123-py/Contexta/internal/core"
)

// withRetry runs fn and retries transient failures up to maxRetries times
// with exponential backoff starting at base.
func withRetry[T any](ctx context.Context, maxRetries int, base time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if base <= 0 {
		base = defaultRetryBackoff
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := retry.WithMaxRetries(uint64(maxRetries), retry.NewExponential(base))
	return retry.DoValue(ctx, b, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil && retryable(ctx, err) {
			return v, retry.RetryableError(err)
		}
		return v, err
	})
}

// retryable is false for cancellation, context-window overflows and bad
// configuration, which fail the same way on every attempt.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cfgErr *core.ConfigError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, core.ErrContextLimitExceeded):
		return false
	case errors.As(err, &cfgErr):
		return false
	}
	return true
}
