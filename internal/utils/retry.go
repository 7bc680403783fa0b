package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds a unit of work: at most Attempts tries, Delay apart.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Retry runs fn until it succeeds, returns an error retryable rejects, the
// attempts are exhausted, or ctx is done. onRetry, when set, is told about
// each failed attempt that will be retried.
func Retry[T any](ctx context.Context, policy RetryPolicy, retryable func(error) bool, onRetry func(attempt int, err error), fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && retryable != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(policy.Delay)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	notify := func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return backoff.RetryNotifyWithData(op, b, notify)
}
