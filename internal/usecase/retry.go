// File: internal/usecase/retry.go
package usecase

import (
	"context"
	"time"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/infra/metrics"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds retries of a single billing provider operation.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// withRetry runs fn up to maxAttempts times with exponential backoff starting
// at baseDelay. Only transient provider errors are retried; permanent and
// unknown outcomes return immediately.
func withRetry[T any](ctx context.Context, op string, maxAttempts int, baseDelay time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(baseDelay))

	var (
		attempt int
		lastErr error
	)
	v, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (T, error) {
		attempt++
		if attempt > 1 {
			metrics.IncProviderRetry(op)
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if domain.ProviderKind(err) == domain.ProviderTransient {
			return v, retry.RetryableError(err)
		}
		return v, err
	})
	if err != nil && lastErr != nil && ctx.Err() != nil && err == ctx.Err() {
		// Cancelled while backing off: report what the provider last said.
		return v, lastErr
	}
	return v, err
}

// retryDo is withRetry for calls without a result value.
func retryDo(ctx context.Context, op string, p RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := withRetry(ctx, op, p.MaxAttempts, p.BaseDelay, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
