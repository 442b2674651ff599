package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// QuadraticBackoff waits attempt² seconds before the given retry.
func QuadraticBackoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * time.Second
}

// attemptBackOff adapts a per-attempt delay func to backoff.BackOff. The
// first retry is attempt 2.
type attemptBackOff struct {
	delay   func(attempt int) time.Duration
	attempt int
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.delay == nil {
		return 0
	}
	return b.delay(b.attempt)
}

func (b *attemptBackOff) Reset() { b.attempt = 1 }

// Retry calls fn up to attempts times. It stops early when fn succeeds, when
// retryable reports false for the returned error, or when ctx is done, in
// which case the context error is returned.
func Retry(ctx context.Context, attempts int, delay func(int) time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&attemptBackOff{delay: delay}, uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
