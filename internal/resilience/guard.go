// Package resilience bounds every external-dependency call with a timeout and
// a process-wide circuit breaker. One breaker instance covers all sessions: a
// cascading failure in any downstream dependency trips it for everyone.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mesa-ai/carta-recs/internal/types"
)

type Guard struct {
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuard builds the shared breaker: it opens on the threshold-th consecutive
// failure, rejects immediately while open, and after resetTimeout allows
// exactly one trial call whose success closes it again.
func NewGuard(threshold uint32, resetTimeout, callTimeout time.Duration) *Guard {
	settings := gobreaker.Settings{
		Name:        "pipeline-dependencies",
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}

	return &Guard{
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: callTimeout,
	}
}

// Do runs op under the breaker with a per-call timeout. The timeout means
// "stop waiting": the in-flight call observes the cancelled context but is
// not guaranteed to have stopped remotely.
func Do[T any](ctx context.Context, g *Guard, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	result, err := g.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return op(callCtx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, types.NewCircuitOpenError(name)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, types.NewTimeoutError(name, err)
		}
		return zero, err
	}

	value, ok := result.(T)
	if !ok && result != nil {
		return zero, types.NewValidationError("unexpected result type from %s", name)
	}
	return value, nil
}

// DoErr is Do for operations with no result value.
func DoErr(ctx context.Context, g *Guard, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, g, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
