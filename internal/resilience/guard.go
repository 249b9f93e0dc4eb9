package resilience

import (
	"context"

	"go.uber.org/zap"
)

// Guard wraps every call to one upstream service with classification, a
// circuit breaker and the retry policy. Services share one Guard per upstream.
type Guard struct {
	service string
	retry   RetryConfig
	breaker *CircuitBreaker
}

// NewGuard creates a guard for the named service.
func NewGuard(service string, retry RetryConfig, breaker CircuitBreakerConfig) *Guard {
	if breaker.OnStateChange == nil {
		breaker.OnStateChange = func(from, to CircuitState) {
			zap.L().Warn("resilience: circuit state changed",
				zap.String("service", service),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}
	return &Guard{service: service, retry: retry, breaker: NewCircuitBreaker(breaker)}
}

// Service returns the upstream name the guard protects.
func (g *Guard) Service() string { return g.service }

// State returns the breaker state.
func (g *Guard) State() CircuitState { return g.breaker.State() }

// Call runs fn under the guard. Retryable failures come back as *TransientError.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := g.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger(g.service, op)
	}
	return DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		var zero T
		if err := g.breaker.Allow(); err != nil {
			return zero, Unavailable(g.service, err)
		}
		val, err := fn(ctx)
		err = Classify(g.service, err)
		g.breaker.Record(err)
		return val, err
	})
}

// Exec is Call for operations without a result.
func Exec(ctx context.Context, g *Guard, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
