package invoker

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how quickly a failed upstream call is
// repeated.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = 200 * time.Millisecond
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = 2
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = 2 * time.Second
	}
	return p
}

// Backoff returns the delay before the given retry. Attempt 1 is the first
// retry.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	delay := p.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffMultiplier)
		if delay >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	return delay
}

// Retry calls fn until it succeeds, returns an error retryable rejects, or
// the policy's attempts run out. onRetry, when set, is called before each
// repeated attempt. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, onRetry func(attempt int, err error), fn func(context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, err)
			}
			timer := time.NewTimer(p.Backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
