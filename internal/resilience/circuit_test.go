package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = NewTransientError(errors.New("upstream down"), 503)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.Record(errUpstream)
	}
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_NonTransientDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})
	for i := 0; i < 5; i++ {
		cb.Record(errors.New("validation failed"))
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	cb.Record(errUpstream)
	cb.Record(errUpstream)
	cb.Record(nil)
	cb.Record(errUpstream)
	cb.Record(errUpstream)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	cb.Record(errUpstream)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(11 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Allow())

	// A failed trial call reopens.
	cb.Record(errUpstream)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	cb.Record(nil)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.Record(errUpstream)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Allow()
			if i%2 == 0 {
				cb.Record(errUpstream)
			} else {
				cb.Record(nil)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestGuard_CallRetriesAndClassifies(t *testing.T) {
	g := NewGuard("cloudwatch", fastRetry(), CircuitBreakerConfig{FailureThreshold: 10})

	calls := 0
	val, err := Call(context.Background(), g, "get-stats", func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", fakeAPIError{code: "Throttling"}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "cloudwatch", g.Service())
}

func TestGuard_ExhaustedIsUnavailable(t *testing.T) {
	g := NewGuard("sagemaker", fastRetry(), CircuitBreakerConfig{FailureThreshold: 10})

	err := Exec(context.Background(), g, "describe", func(_ context.Context) error {
		return fakeAPIError{code: "ServiceUnavailable"}
	})
	te, ok := AsTransient(err)
	require.True(t, ok)
	assert.Equal(t, "sagemaker", te.Service)
}

func TestGuard_PermanentPassesThrough(t *testing.T) {
	g := NewGuard("sagemaker", fastRetry(), CircuitBreakerConfig{})
	calls := 0
	err := Exec(context.Background(), g, "create", func(_ context.Context) error {
		calls++
		return fakeAPIError{code: "ValidationException"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsTransient(err))
}

func TestGuard_OpenCircuitShortCircuits(t *testing.T) {
	retry := fastRetry()
	retry.MaxAttempts = 1
	g := NewGuard("influx", retry, CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	_ = Exec(context.Background(), g, "write", func(_ context.Context) error { return errUpstream })
	assert.Equal(t, CircuitOpen, g.State())

	called := false
	err := Exec(context.Background(), g, "write", func(_ context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsTransient(err))
}
