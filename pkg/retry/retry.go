package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry loop: how many attempts, how long to wait
// between them, and which errors are worth another try.
type Policy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// Fixed returns a delay function with the same wait between every attempt.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Linear returns a delay function growing by step per attempt (step, 2*step,
// 3*step, ...).
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration { return time.Duration(attempt) * step }
}

// Do runs op until it succeeds, a non-retryable error occurs, the attempts
// are exhausted, or the context is done. Returns the last error seen.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		if p.Delay != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt)):
			}
		}
	}
	return lastErr
}
