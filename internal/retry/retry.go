// Package retry implements a fixed-delay retry policy shared by every remote call.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how an operation is retried.
//
// MaxAttempts counts every attempt including the first. Delay is the fixed
// pause between attempts; there is no backoff. Retryable decides whether an
// error is worth another attempt; nil retries everything.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry: %w", err)
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		last = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if i == attempts-1 {
			break
		}

		if err := sleep(ctx, p.Delay); err != nil {
			return zero, fmt.Errorf("retry: %w", err)
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Last: last}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
