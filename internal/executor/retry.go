package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy retries an operation when its failure is classified transient.
// Exists because a freshly acquired execution context may not have finished
// initialising its listener when the first message arrives.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, first try included.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number: linear backoff.
	BaseDelay time.Duration
	// Transient classifies retryable errors. Anything else fails immediately.
	Transient func(error) bool
}

// DefaultRetryPolicy matches the field tooling: four attempts, half-second base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		Transient:   IsNotReady,
	}
}

// linearBackOff waits BaseDelay × attempt between tries.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// Do runs op, retrying transient failures up to the attempt budget.
// Non-transient errors and an exhausted budget propagate as terminal failures.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: p.BaseDelay}, uint64(attempts-1)),
		ctx,
	)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.Transient != nil && p.Transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
