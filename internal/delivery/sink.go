// Package delivery forwards enriched events to the warehouse.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/metrics"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/tracking"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/warehouse"
	"github.com/jaevor/go-nanoid"
	"go.uber.org/zap"
)

// ErrDelivery marks a batch the warehouse did not accept as a whole.
var ErrDelivery = errors.New("delivery failed")

const batchIDLength = 12

// FailedBatch is a batch that could not be delivered, kept with its
// dedup keys so that a later resend is idempotent.
type FailedBatch struct {
	BatchID  string          `json:"batchId"`
	Table    string          `json:"table"`
	Rows     []warehouse.Row `json:"rows"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failedAt"`
}

// Error is returned by the sink when a batch fails as a whole.
type Error struct {
	Batch *FailedBatch
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("delivery failed: batch %s: %v", e.Batch.BatchID, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}

// Deliverer sends a batch of enriched events to the warehouse.
type Deliverer interface {
	Deliver(ctx context.Context, events []tracking.EnrichedEvent) error
}

// Sink turns enriched events into warehouse rows and inserts them with a
// single call per batch.
type Sink struct {
	inserter warehouse.Inserter
	table    string
	newID    func() string
	logger   *zap.Logger
	now      func() time.Time
}

// NewSink creates a sink writing to table.
func NewSink(inserter warehouse.Inserter, table string, logger *zap.Logger) (*Sink, error) {
	newID, err := nanoid.Standard(batchIDLength)
	if err != nil {
		return nil, fmt.Errorf("creating batch id generator: %w", err)
	}

	return &Sink{
		inserter: inserter,
		table:    table,
		newID:    newID,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Table returns the destination table.
func (s *Sink) Table() string {
	return s.table
}

// Rows encodes events as insert rows keyed by their dedup key.
func Rows(events []tracking.EnrichedEvent) ([]warehouse.Row, error) {
	rows := make([]warehouse.Row, 0, len(events))

	for i, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("encoding event %d: %w", i, err)
		}

		rows = append(rows, warehouse.Row{
			InsertID: tracking.DedupKey(event, i),
			JSON:     payload,
		})
	}

	return rows, nil
}

// Deliver inserts events as one batch. Rows the warehouse refuses are
// logged individually and do not fail the call.
func (s *Sink) Deliver(ctx context.Context, events []tracking.EnrichedEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows, err := Rows(events)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	return s.DeliverRows(ctx, s.newID(), rows)
}

// DeliverRows inserts prepared rows under batchID.
func (s *Sink) DeliverRows(ctx context.Context, batchID string, rows []warehouse.Row) error {
	start := time.Now()
	result, err := s.inserter.InsertRows(ctx, s.table, rows)

	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.Deliveries.WithLabelValues("failure").Inc()
		s.logger.Error("warehouse insert failed",
			zap.String("batchId", batchID),
			zap.String("table", s.table),
			zap.Int("rows", len(rows)),
			zap.Error(err),
		)

		return &Error{
			Batch: &FailedBatch{
				BatchID:  batchID,
				Table:    s.table,
				Rows:     rows,
				Reason:   err.Error(),
				FailedAt: s.now(),
			},
			Err: err,
		}
	}

	if len(result.RowErrors) > 0 {
		metrics.Deliveries.WithLabelValues("partial").Inc()
		metrics.RowsRejected.Add(float64(len(result.RowErrors)))

		for _, rowErr := range result.RowErrors {
			s.logger.Warn("warehouse rejected row",
				zap.String("batchId", batchID),
				zap.Int("index", rowErr.Index),
				zap.String("insertId", insertIDAt(rows, rowErr.Index)),
				zap.String("reasons", reasons(rowErr.Errors)),
			)
		}

		return nil
	}

	metrics.Deliveries.WithLabelValues("success").Inc()
	s.logger.Debug("batch delivered",
		zap.String("batchId", batchID),
		zap.Int("rows", len(rows)),
	)

	return nil
}

func insertIDAt(rows []warehouse.Row, index int) string {
	if index < 0 || index >= len(rows) {
		return ""
	}

	return rows[index].InsertID
}

func reasons(details []warehouse.ErrorDetail) string {
	parts := make([]string, 0, len(details))
	for _, d := range details {
		parts = append(parts, d.Reason+": "+d.Message)
	}

	return strings.Join(parts, "; ")
}
