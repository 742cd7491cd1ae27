// Package metrics holds the Prometheus collectors of the edge service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_events_received_total",
			Help: "Tracking events accepted on /track",
		},
	)

	// Dispatches counts deliveries by mode: queued, inline or sync.
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_delivery_dispatch_total",
			Help: "Batches handed to the delivery dispatcher by mode",
		},
		[]string{"mode"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_deliveries_total",
			Help: "Warehouse insert calls by outcome",
		},
		[]string{"outcome"}, // "success", "partial", "failure"
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edge_delivery_duration_seconds",
			Help:    "Duration of warehouse insert calls including token issuance",
			Buckets: prometheus.DefBuckets,
		},
	)

	RowsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_delivery_rows_rejected_total",
			Help: "Rows refused by the warehouse in otherwise accepted calls",
		},
	)

	TokenIssuance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_token_issuance_total",
			Help: "Bearer token requests made for warehouse calls by outcome",
		},
		[]string{"outcome"},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_delivery_dead_lettered_total",
			Help: "Failed batches handed to the dead-letter topic by outcome",
		},
		[]string{"outcome"},
	)

	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_lookups_total",
			Help: "Key-value lookups by store and result",
		},
		[]string{"store", "result"}, // result: "hit", "miss", "expired", "error"
	)

	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_messages_consumed_total",
			Help: "Messages settled by consumers by topic and outcome",
		},
		[]string{"topic", "outcome"}, // "handled", "retry", "dropped", "undecodable"
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_rate_limited_total",
			Help: "Requests refused with 429 by scope",
		},
		[]string{"scope"}, // "route" for endpoint rules
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
