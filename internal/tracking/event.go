package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidBatch is returned when a payload does not carry an events array.
var ErrInvalidBatch = errors.New("invalid payload")

// EventTypeEmailClick is the type of events emitted by the short-link redirect.
const EventTypeEmailClick = "email_click"

// TrackingEvent is a single client-side action reported by the pixel.
type TrackingEvent struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	SessionID string         `json:"sessionId"`
	VisitorID *string        `json:"visitorId"`
	URL       string         `json:"url"`
	Referrer  string         `json:"referrer"`
	Data      map[string]any `json:"data,omitempty"`
}

// BatchMeta is the transport metadata attached by the client.
type BatchMeta struct {
	SentAt int64 `json:"sentAt"`
}

// EventBatch is the unit of client-to-service transfer.
type EventBatch struct {
	Events []TrackingEvent `json:"events"`
	Meta   BatchMeta       `json:"meta"`
}

// DecodeBatch parses a /track payload.
//
// Only the shape of the envelope is enforced: events must be a JSON array.
// Individual events are decoded field by field and a field of the wrong
// type is dropped instead of failing the whole batch.
func DecodeBatch(payload []byte) (*EventBatch, error) {
	var raw struct {
		Events json.RawMessage `json:"events"`
		Meta   json.RawMessage `json:"meta"`
	}

	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}

	var items []json.RawMessage
	if len(raw.Events) == 0 || string(raw.Events) == "null" {
		return nil, fmt.Errorf("%w: events is required", ErrInvalidBatch)
	}

	if err := json.Unmarshal(raw.Events, &items); err != nil {
		return nil, fmt.Errorf("%w: events must be an array", ErrInvalidBatch)
	}

	batch := &EventBatch{Events: make([]TrackingEvent, 0, len(items))}

	for _, item := range items {
		batch.Events = append(batch.Events, decodeEvent(item))
	}

	var meta struct {
		SentAt json.RawMessage `json:"sentAt"`
	}

	if json.Unmarshal(raw.Meta, &meta) == nil {
		batch.Meta.SentAt = decodeInt(meta.SentAt)
	}

	return batch, nil
}

func decodeEvent(raw json.RawMessage) TrackingEvent {
	var fields map[string]json.RawMessage

	var event TrackingEvent
	if err := json.Unmarshal(raw, &fields); err != nil {
		return event
	}

	event.Type = decodeString(fields["type"])
	event.Timestamp = decodeInt(fields["timestamp"])
	event.SessionID = decodeString(fields["sessionId"])
	event.URL = decodeString(fields["url"])
	event.Referrer = decodeString(fields["referrer"])

	var visitorID string
	if json.Unmarshal(fields["visitorId"], &visitorID) == nil && visitorID != "" {
		event.VisitorID = &visitorID
	}

	var data map[string]any
	if json.Unmarshal(fields["data"], &data) == nil && data != nil {
		event.Data = data
	}

	return event
}

func decodeString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}

	return s
}

// decodeInt accepts integral and fractional JSON numbers; the pixel sends
// Date.now() which is always integral but some proxies re-encode as floats.
func decodeInt(raw json.RawMessage) int64 {
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return 0
	}

	if i, err := n.Int64(); err == nil {
		return i
	}

	if f, err := n.Float64(); err == nil {
		return int64(f)
	}

	return 0
}
