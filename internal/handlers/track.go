package handlers

import (
	"context"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/metrics"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/tracking"
	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"
)

// Dispatcher hands enriched events to background delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []tracking.EnrichedEvent)
}

// TrackHandler accepts event batches from the tracker.
type TrackHandler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewTrackHandler creates a new track handler.
func NewTrackHandler(dispatcher Dispatcher, logger *zap.Logger) *TrackHandler {
	return &TrackHandler{
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Track enriches a batch and schedules its delivery. The response does not
// wait for the warehouse.
func (h *TrackHandler) Track(ctx context.Context, req *TrackRequest) (*TrackResponse, error) {
	batch, err := tracking.DecodeBatch(req.RawBody)
	if err != nil {
		h.logger.Warn("rejected event batch", zap.Error(err))

		return nil, huma.Error400BadRequest("Invalid payload")
	}

	events := tracking.EnrichBatch(batch.Events, tracking.RequestMetaFromContext(ctx), h.now())
	h.dispatcher.Dispatch(ctx, events)

	metrics.EventsReceived.Add(float64(len(events)))

	resp := &TrackResponse{}
	resp.Body.Success = true
	resp.Body.EventsReceived = len(events)

	return resp, nil
}
