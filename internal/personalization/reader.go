// Package personalization serves per-visitor page customization records.
package personalization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/kv"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/metrics"
	"go.uber.org/zap"
)

// ErrCorrupt is returned when a stored record is not a JSON object.
var ErrCorrupt = errors.New("personalization record is not a JSON object")

// notPersonalized is served for visitors without a record.
var notPersonalized = json.RawMessage(`{"personalized":false}`)

// Result is a personalization document ready to be served.
type Result struct {
	Body json.RawMessage
	// Personalized is false when the visitor has no record.
	Personalized bool
}

// Reader looks personalization records up in a key-value store.
type Reader struct {
	store  kv.Store
	logger *zap.Logger
}

// NewReader creates a reader over store.
func NewReader(store kv.Store, logger *zap.Logger) *Reader {
	return &Reader{store: store, logger: logger}
}

// Read returns the record for visitorID with personalized set to true, or
// the default document when there is none. Stored fields are kept as is.
func (r *Reader) Read(ctx context.Context, visitorID string) (*Result, error) {
	raw, err := r.store.Get(ctx, visitorID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			metrics.Lookups.WithLabelValues("personalization", "miss").Inc()

			return &Result{Body: notPersonalized}, nil
		}

		metrics.Lookups.WithLabelValues("personalization", "error").Inc()

		return nil, fmt.Errorf("looking up personalization: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		metrics.Lookups.WithLabelValues("personalization", "error").Inc()
		r.logger.Error("stored personalization is not a JSON object", zap.String("visitorId", visitorID))

		return nil, ErrCorrupt
	}

	if fields == nil {
		metrics.Lookups.WithLabelValues("personalization", "miss").Inc()

		return &Result{Body: notPersonalized}, nil
	}

	fields["personalized"] = json.RawMessage("true")

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding personalization: %w", err)
	}

	metrics.Lookups.WithLabelValues("personalization", "hit").Inc()

	return &Result{Body: body, Personalized: true}, nil
}
