package plane

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/liftshift/liftshift/internal/schema"
)

// RetryPolicy bounds the transient-error retry loop around a plane.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration // initial backoff, doubled per attempt
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries transient failures three times with exponential
// backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Second, MaxBackoff: 30 * time.Second}
}

// Resilient wraps a Plane with retry-on-transient and a circuit breaker.
// The wrapped plane itself never retries; this layer is where the caller's
// retry policy lives. Once the breaker opens, calls fail fast with
// ConnectivityLost instead of hammering a dead backend.
type Resilient struct {
	inner   Plane
	policy  RetryPolicy
	breaker *gobreaker.CircuitBreaker
}

// NewResilient wraps inner with the given retry policy.
func NewResilient(inner Plane, policy RetryPolicy) *Resilient {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff <= 0 {
		policy.Backoff = time.Second
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "plane",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
		IsSuccessful: func(err error) bool {
			// Data errors do not indicate backend health problems.
			return err == nil || !Retryable(err)
		},
	})
	return &Resilient{inner: inner, policy: policy, breaker: breaker}
}

// do runs op through the breaker and the retry loop.
func (r *Resilient) do(ctx context.Context, table string, op func() error) error {
	backoff := r.policy.Backoff
	var lastErr error

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := backoff
			if wait > r.policy.MaxBackoff {
				wait = r.policy.MaxBackoff
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			backoff *= 2
		}

		_, err := r.breaker.Execute(func() (any, error) {
			return nil, op()
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			lastErr = NewError(KindConnectivityLost, table, err)
			continue
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if !Retryable(err) {
			return err
		}
		// Rate limiting gets a gentler restart than plain connectivity loss.
		if IsKind(err, KindRateLimited) {
			backoff *= 2
		}
	}
	return lastErr
}

func (r *Resilient) BulkRead(ctx context.Context, table string, cursor Cursor, batchSize int) (Page, error) {
	var page Page
	err := r.do(ctx, table, func() error {
		var opErr error
		page, opErr = r.inner.BulkRead(ctx, table, cursor, batchSize)
		return opErr
	})
	return page, err
}

func (r *Resilient) BulkWrite(ctx context.Context, table string, rows []schema.Record) (WriteOutcome, error) {
	var outcome WriteOutcome
	err := r.do(ctx, table, func() error {
		var opErr error
		outcome, opErr = r.inner.BulkWrite(ctx, table, rows)
		return opErr
	})
	return outcome, err
}

func (r *Resilient) DeleteAll(ctx context.Context, table string) (int64, error) {
	var deleted int64
	err := r.do(ctx, table, func() error {
		var opErr error
		deleted, opErr = r.inner.DeleteAll(ctx, table)
		return opErr
	})
	return deleted, err
}

func (r *Resilient) Count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := r.do(ctx, table, func() error {
		var opErr error
		count, opErr = r.inner.Count(ctx, table)
		return opErr
	})
	return count, err
}

func (r *Resilient) Lookup(ctx context.Context, table string, id schema.ID) (schema.Record, bool, error) {
	var rec schema.Record
	var found bool
	err := r.do(ctx, table, func() error {
		var opErr error
		rec, found, opErr = r.inner.Lookup(ctx, table, id)
		return opErr
	})
	return rec, found, err
}

func (r *Resilient) Exists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := r.do(ctx, table, func() error {
		var opErr error
		exists, opErr = r.inner.Exists(ctx, table)
		return opErr
	})
	return exists, err
}
