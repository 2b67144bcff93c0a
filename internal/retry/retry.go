// Package retry wraps a single provider call with bounded exponential backoff.
// Only errors the caller classifies as transient are retried; everything else
// propagates immediately.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds the retry behaviour of one logical call.
type Policy struct {
	// MaxAttempts is the total number of provider calls, including the
	// first. After MaxAttempts consecutive transient failures the call
	// fails without issuing another attempt.
	MaxAttempts int
	// BaseDelay is the wait before the first retry. Each subsequent wait
	// doubles the previous one.
	BaseDelay time.Duration
}

// DefaultPolicy mirrors the provider rate-limit discipline used across the
// service: three attempts, backing off 5s then 10s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second}
}

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// sleep waits for d or until the context is cancelled. Overridden in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do invokes op, retrying transient failures with exponential backoff until
// the policy is exhausted or the context is cancelled.
func Do(ctx context.Context, p Policy, transient Classifier, op func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if transient == nil || !transient(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
	}
}
