package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrInvalidMaxAttempts is returned when a retry policy allows no attempts.
var ErrInvalidMaxAttempts = fmt.Errorf("%w: max attempts must be positive", ErrInput)

// RetryPolicy bounds the exponential backoff applied to retryable failures.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Delay before the second attempt, doubled afterwards
	MaxDelay    time.Duration // Optional cap on a single delay
}

// DefaultRetryPolicy returns the policy used for provider and store calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Retry runs operation until it succeeds, fails with an error IsRetryable
// rejects, the policy is exhausted or ctx is done. The last operation error
// is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, operation func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	base := policy.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}

	backoff := retry.NewExponential(base)
	if policy.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(policy.MaxDelay, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(policy.MaxAttempts-1), backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", policy.MaxAttempts, "err", err)
		return retry.RetryableError(err)
	})
}
