package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/metrics"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/tracking"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/warehouse"
	"go.uber.org/zap"
)

// DeadLetter receives batches whose delivery failed and may succeed later.
type DeadLetter func(ctx context.Context, batch *FailedBatch) error

// DispatcherConfig sizes the background delivery pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single delivery including token issuance.
	Timeout time.Duration
}

// DefaultDispatcherConfig returns a small pool suitable for one instance.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:   4,
		QueueSize: 256,
		Timeout:   10 * time.Second,
	}
}

type job struct {
	ctx    context.Context
	events []tracking.EnrichedEvent
}

// Dispatcher runs deliveries in the background so requests can be answered
// before the warehouse responds. Work is never dropped: when the queue is
// full or the dispatcher is stopping, the caller delivers inline.
type Dispatcher struct {
	sink       Deliverer
	cfg        DispatcherConfig
	deadLetter DeadLetter
	logger     *zap.Logger

	mu       sync.RWMutex
	stopping bool
	jobs     chan job
	wg       sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDeadLetter hands retryable failures to dl.
func WithDeadLetter(dl DeadLetter) DispatcherOption {
	return func(d *Dispatcher) {
		d.deadLetter = dl
	}
}

// NewDispatcher starts cfg.Workers workers delivering through sink.
func NewDispatcher(sink Deliverer, cfg DispatcherConfig, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}

	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	d := &Dispatcher{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan job, cfg.QueueSize),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(cfg.Workers)

	for range cfg.Workers {
		go d.work()
	}

	return d
}

// Dispatch schedules delivery of events and returns immediately unless the
// pool cannot take the batch. The delivery outlives ctx cancellation but
// keeps its values.
func (d *Dispatcher) Dispatch(ctx context.Context, events []tracking.EnrichedEvent) {
	if len(events) == 0 {
		return
	}

	j := job{ctx: context.WithoutCancel(ctx), events: events}

	d.mu.RLock()
	if !d.stopping {
		select {
		case d.jobs <- j:
			d.mu.RUnlock()
			metrics.Dispatches.WithLabelValues("queued").Inc()

			return
		default:
		}
	}
	d.mu.RUnlock()

	metrics.Dispatches.WithLabelValues("inline").Inc()
	d.logger.Warn("delivery queue unavailable, delivering inline", zap.Int("events", len(events)))
	d.run(j)
}

// Deliver delivers events on the caller's goroutine within ctx. Failures
// are dead-lettered like queued ones and returned to the caller.
func (d *Dispatcher) Deliver(ctx context.Context, events []tracking.EnrichedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("delivery panicked", zap.Any("panic", r), zap.Int("events", len(events)))
			err = fmt.Errorf("%w: panic: %v", ErrDelivery, r)
		}
	}()

	metrics.Dispatches.WithLabelValues("sync").Inc()

	if err = d.sink.Deliver(ctx, events); err != nil {
		d.handleFailure(context.WithoutCancel(ctx), err)
	}

	return err
}

func (d *Dispatcher) work() {
	defer d.wg.Done()

	for j := range d.jobs {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("delivery panicked",
				zap.Any("panic", r),
				zap.Int("events", len(j.events)),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(j.ctx, d.cfg.Timeout)
	defer cancel()

	err := d.sink.Deliver(ctx, j.events)
	if err == nil {
		return
	}

	d.handleFailure(j.ctx, err)
}

func (d *Dispatcher) handleFailure(ctx context.Context, err error) {
	var failure *Error
	if !errors.As(err, &failure) {
		d.logger.Error("delivery failed", zap.Error(err))

		return
	}

	if d.deadLetter == nil || !warehouse.IsRetryable(failure.Err) {
		return
	}

	if dlErr := d.deadLetter(ctx, failure.Batch); dlErr != nil {
		metrics.DeadLettered.WithLabelValues("failure").Inc()
		d.logger.Error("failed to dead-letter batch",
			zap.String("batchId", failure.Batch.BatchID),
			zap.Int("rows", len(failure.Batch.Rows)),
			zap.Error(dlErr),
		)

		return
	}

	metrics.DeadLettered.WithLabelValues("success").Inc()
	d.logger.Info("batch dead-lettered",
		zap.String("batchId", failure.Batch.BatchID),
		zap.Int("rows", len(failure.Batch.Rows)),
	)
}

// Shutdown stops accepting queued work and waits for queued deliveries.
func (d *Dispatcher) Shutdown() error {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()

		return nil
	}

	d.stopping = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()

	return nil
}

// ShutdownContext is Shutdown bounded by ctx.
func (d *Dispatcher) ShutdownContext(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		_ = d.Shutdown()

		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for deliveries: %w", ctx.Err())
	}
}
