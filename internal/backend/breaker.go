package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerTables guards a Tables implementation with a circuit breaker.
type BreakerTables struct {
	next   Tables
	cb     *gobreaker.CircuitBreaker[int64]
	logger *zap.Logger
}

// NewBreakerTables wraps next. The circuit opens after maxFailures consecutive
// failures and probes again after openTimeout.
func NewBreakerTables(next Tables, maxFailures uint32, openTimeout time.Duration, logger *zap.Logger) *BreakerTables {
	if maxFailures == 0 {
		maxFailures = 5
	}
	b := &BreakerTables{next: next, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "backend-tables",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return b
}

// State returns the current breaker state.
func (b *BreakerTables) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerTables) execute(op, table string, fn func() (int64, error)) (int64, error) {
	n, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, NewQueryError(op, table, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return n, err
}

func (b *BreakerTables) Select(ctx context.Context, q Query, dest any) error {
	_, err := b.execute("select", q.Table, func() (int64, error) {
		return 0, b.next.Select(ctx, q, dest)
	})
	return err
}

func (b *BreakerTables) Insert(ctx context.Context, table string, row Row) error {
	_, err := b.execute("insert", table, func() (int64, error) {
		return 0, b.next.Insert(ctx, table, row)
	})
	return err
}

func (b *BreakerTables) Update(ctx context.Context, table, id string, patch Row, filters ...Filter) (int64, error) {
	return b.execute("update", table, func() (int64, error) {
		return b.next.Update(ctx, table, id, patch, filters...)
	})
}

func (b *BreakerTables) Delete(ctx context.Context, table, id string, filters ...Filter) (int64, error) {
	return b.execute("delete", table, func() (int64, error) {
		return b.next.Delete(ctx, table, id, filters...)
	})
}
