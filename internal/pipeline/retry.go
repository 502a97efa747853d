package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"friday/internal/domain"
)

// RetryPolicy bounds in-stage retries of transient failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy makes three attempts starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond}
}

// WithRetry runs fn until it succeeds, fails with a non-io error or the
// attempts run out. Backoff is jittered exponential and aborts on
// cancellation.
func WithRetry(sc *StageContext, policy RetryPolicy, what string, fn func(ctx context.Context) error) error {
	attempts := max(policy.Attempts, 1)
	delay := policy.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := sc.Checkpoint(); cerr != nil {
			return cerr
		}
		err = fn(sc.Context())
		if err == nil || domain.KindOf(err) != domain.KindIO {
			return err
		}
		if attempt == attempts {
			break
		}

		sc.retried(attempt, err)
		sc.Emit(0, fmt.Sprintf("%s failed (attempt %d/%d), retrying", what, attempt, attempts))

		wait := delay
		if delay > 0 {
			wait += time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		}
		select {
		case <-sc.Context().Done():
			return domain.Cancelled(sc.Context().Err())
		case <-time.After(wait):
		}
		delay *= 2
	}
	return err
}
