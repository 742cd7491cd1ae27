package tracking

import (
	"context"
	"fmt"
	"time"
)

type requestMetaKey struct{}

// RequestMeta holds the server-observed attributes of an inbound request.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
	Referrer  string
	Origin    string
	Country   string
	City      string
	Region    string
	Timezone  string
	Colo      string
}

// ContextWithRequestMeta adds request metadata to context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext extracts request metadata from context.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if v, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return v
	}

	return RequestMeta{}
}

// EnrichedEvent is a TrackingEvent plus what the edge observed when it
// arrived. It is the row payload written to the warehouse.
type EnrichedEvent struct {
	TrackingEvent

	// Set on click events only.
	IdentityID  string `json:"identityId,omitempty"`
	Destination string `json:"destination,omitempty"`

	ServerTimestamp int64   `json:"serverTimestamp"`
	IP              *string `json:"ip"`
	Country         *string `json:"country"`
	City            *string `json:"city"`
	Region          *string `json:"region"`
	Timezone        *string `json:"timezone"`
	Colo            *string `json:"colo"`
	UserAgent       *string `json:"userAgent"`
}

// Enrich augments an event with request-derived attributes and the receipt
// time. It never fails; missing attributes serialize as null.
func Enrich(event TrackingEvent, meta RequestMeta, now time.Time) EnrichedEvent {
	return EnrichedEvent{
		TrackingEvent:   event,
		ServerTimestamp: now.UnixMilli(),
		IP:              optional(meta.ClientIP),
		Country:         optional(meta.Country),
		City:            optional(meta.City),
		Region:          optional(meta.Region),
		Timezone:        optional(meta.Timezone),
		Colo:            optional(meta.Colo),
		UserAgent:       optional(meta.UserAgent),
	}
}

// EnrichBatch enriches every event of a batch with the same receipt time.
func EnrichBatch(events []TrackingEvent, meta RequestMeta, now time.Time) []EnrichedEvent {
	enriched := make([]EnrichedEvent, len(events))
	for i, event := range events {
		enriched[i] = Enrich(event, meta, now)
	}

	return enriched
}

// NewClickEvent builds the event recorded when a tracked short link is followed.
func NewClickEvent(identityID, destination string, meta RequestMeta, now time.Time) EnrichedEvent {
	event := Enrich(TrackingEvent{
		Type:      EventTypeEmailClick,
		Timestamp: now.UnixMilli(),
		Referrer:  meta.Referrer,
	}, meta, now)

	event.IdentityID = identityID
	event.Destination = destination

	return event
}

// DedupKey returns the warehouse insert id of the event at position index
// within its batch. Resending the same batch yields the same keys.
func DedupKey(event EnrichedEvent, index int) string {
	session := event.SessionID
	if session == "" {
		session = event.IdentityID
	}

	return fmt.Sprintf("%s-%d-%d", session, event.Timestamp, index)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
