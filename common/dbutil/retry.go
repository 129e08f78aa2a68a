package dbutil

import (
	"context"
	"time"

	"github.com/Aidin1998/pincex_fno/common/errors"
)

// RetryPolicy bounds retries of transient storage failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is used by the ledger store unless configured otherwise.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond}

// Retry calls fn up to MaxAttempts times with exponential backoff starting at
// BaseDelay. Only errors.Storage failures are retried; every other error is
// returned immediately. Context cancellation stops the loop between attempts.
func Retry(ctx context.Context, p RetryPolicy, fn func(attempt int) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var err error
	delay := p.BaseDelay

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil || !errors.Retriable(err) {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt < p.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}
