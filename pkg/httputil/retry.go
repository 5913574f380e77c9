package httputil

import (
	"context"
	"errors"
	"time"
)

// maxRetryDelay caps the doubling wait between attempts.
const maxRetryDelay = 30 * time.Second

// RetryableError marks a failure worth another attempt: a dropped
// connection, a timeout or a 5xx from the archive host.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as a [RetryableError]. nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is a
// [RetryableError].
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Retry calls fn until it succeeds, returns an error not marked
// [Retryable], or has been called attempts times. The wait starts at delay
// and doubles after each failure, up to 30s. Cancelling ctx during a wait
// returns ctx.Err(); otherwise the last error from fn is returned.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) || attempt >= attempts {
			return err
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, maxRetryDelay)
	}
}
