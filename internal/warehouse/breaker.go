package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without calling the warehouse while the breaker is open.
var ErrCircuitOpen = errors.New("warehouse circuit open")

// BreakerSettings tunes the circuit breaker in front of the warehouse.
type BreakerSettings struct {
	// MinRequests is the sample size before the failure ratio is considered.
	MinRequests uint32
	// FailureRatio opens the circuit when reached.
	FailureRatio float64
	// Interval resets the counts while closed.
	Interval time.Duration
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
}

// DefaultBreakerSettings returns settings suited to a streaming insert API.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:  10,
		FailureRatio: 0.6,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
	}
}

// BreakerInserter fails fast while the warehouse keeps failing.
type BreakerInserter struct {
	next Inserter
	cb   *gobreaker.CircuitBreaker[*InsertResult]
}

// NewBreakerInserter wraps next with a circuit breaker.
func NewBreakerInserter(next Inserter, settings BreakerSettings, logger *zap.Logger) *BreakerInserter {
	const name = "warehouse-insert"

	metrics.BreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*InsertResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}

			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("warehouse circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		// Caller cancellation says nothing about warehouse health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerInserter{next: next, cb: cb}
}

// InsertRows forwards to the wrapped inserter unless the circuit is open.
func (b *BreakerInserter) InsertRows(ctx context.Context, table string, rows []Row) (*InsertResult, error) {
	result, err := b.cb.Execute(func() (*InsertResult, error) {
		return b.next.InsertRows(ctx, table, rows)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}

	return result, err
}

// State returns the current breaker state.
func (b *BreakerInserter) State() gobreaker.State {
	return b.cb.State()
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
