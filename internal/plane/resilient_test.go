package plane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftshift/liftshift/internal/schema"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	inner := NewMemoryPlane()
	inner.CreateTable("users")

	calls := 0
	inner.FailWith = func(op, table string) error {
		calls++
		if calls < 3 {
			return NewError(KindConnectivityLost, table, nil)
		}
		return nil
	}

	r := NewResilient(inner, fastPolicy(3))
	count, err := r.Count(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, 3, calls)
}

func TestResilientGivesUpAfterMaxAttempts(t *testing.T) {
	inner := NewMemoryPlane()
	inner.CreateTable("users")

	calls := 0
	inner.FailWith = func(op, table string) error {
		calls++
		return NewError(KindTimedOut, table, nil)
	}

	r := NewResilient(inner, fastPolicy(3))
	_, err := r.Count(context.Background(), "users")
	assert.True(t, IsKind(err, KindTimedOut))
	assert.Equal(t, 3, calls)
}

func TestResilientDoesNotRetryDataErrors(t *testing.T) {
	inner := NewMemoryPlane()
	inner.CreateTable("users")

	calls := 0
	inner.FailWith = func(op, table string) error {
		calls++
		return NewError(KindConstraintViolation, table, nil)
	}

	r := NewResilient(inner, fastPolicy(3))
	_, err := r.BulkWrite(context.Background(), "users", []schema.Record{{"id": schema.NewID()}})
	assert.True(t, IsKind(err, KindConstraintViolation))
	assert.Equal(t, 1, calls)
}

func TestResilientDoesNotRetryPermissionDenied(t *testing.T) {
	inner := NewMemoryPlane()
	inner.CreateTable("users")

	calls := 0
	inner.FailWith = func(op, table string) error {
		calls++
		return NewError(KindPermissionDenied, table, nil)
	}

	r := NewResilient(inner, fastPolicy(5))
	_, err := r.Count(context.Background(), "users")
	assert.True(t, IsKind(err, KindPermissionDenied))
	assert.Equal(t, 1, calls)
}

func TestResilientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := NewMemoryPlane()
	inner.CreateTable("users")

	calls := 0
	inner.FailWith = func(op, table string) error {
		calls++
		return NewError(KindConnectivityLost, table, nil)
	}

	r := NewResilient(inner, fastPolicy(1))
	ctx := context.Background()

	// Five consecutive failures trip the breaker.
	for i := 0; i < 5; i++ {
		_, err := r.Count(ctx, "users")
		require.Error(t, err)
	}
	tripped := calls

	// The breaker now fails fast without reaching the inner plane.
	_, err := r.Count(ctx, "users")
	assert.True(t, IsKind(err, KindConnectivityLost))
	assert.Equal(t, tripped, calls)
}

func TestResilientRespectsCancellation(t *testing.T) {
	inner := NewMemoryPlane()
	inner.CreateTable("users")
	inner.FailWith = func(op, table string) error {
		return NewError(KindConnectivityLost, table, nil)
	}

	r := NewResilient(inner, RetryPolicy{MaxAttempts: 10, Backoff: time.Hour, MaxBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Count(ctx, "users")
	assert.ErrorIs(t, err, context.Canceled)
}
