package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/messaging"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/warehouse"
)

// RowDeliverer inserts prepared rows under a batch id.
type RowDeliverer interface {
	DeliverRows(ctx context.Context, batchID string, rows []warehouse.Row) error
}

// NewReplayHandler redelivers dead-lettered batches with their original
// dedup keys. Batches older than maxAge, or failing for a reason a resend
// cannot fix, are dropped. A zero maxAge keeps batches forever.
func NewReplayHandler(sink RowDeliverer, maxAge time.Duration) messaging.Handler[FailedBatch] {
	return func(ctx context.Context, batch *FailedBatch) error {
		if len(batch.Rows) == 0 {
			return nil
		}

		if maxAge > 0 && !batch.FailedAt.IsZero() && time.Since(batch.FailedAt) > maxAge {
			return messaging.Permanent(fmt.Errorf("batch %s failed at %s, past the replay window",
				batch.BatchID, batch.FailedAt.Format(time.RFC3339)))
		}

		err := sink.DeliverRows(ctx, batch.BatchID, batch.Rows)
		if err == nil {
			return nil
		}

		var failure *Error
		if errors.As(err, &failure) && !warehouse.IsRetryable(failure.Err) {
			return messaging.Permanent(err)
		}

		return err
	}
}
