// Package fn provides a generic bounded retry with exponential backoff.
package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// RetryIf decides whether an error is worth another attempt. A nil
	// RetryIf retries every error.
	RetryIf func(error) bool
}

// DefaultRetry provides sensible retry defaults for backend calls.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// Retry runs f up to MaxAttempts times with exponential backoff, returning
// the first success or the last error. Context cancellation aborts between
// attempts.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) (T, error)) (T, error) {
	var (
		val  T
		err  error
		wait = opts.InitialWait
	)

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		val, err = f(ctx)
		if err == nil {
			return val, nil
		}
		if opts.RetryIf != nil && !opts.RetryIf(err) {
			return val, err
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if sleep > opts.MaxWait {
			sleep = opts.MaxWait
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(sleep):
		}

		wait *= 2
		if wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return val, err
}
