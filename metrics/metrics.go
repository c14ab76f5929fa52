// Package metrics provides Prometheus metrics for the SDK's API client and
// session lifecycle. Labels never carry tokens, paths or state values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsTotal counts accepted API calls by method and dispatch mode.
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailymotion_api_calls_total",
		Help: "Total number of API calls accepted, by method and mode (batched/immediate).",
	}, []string{"method", "mode"})

	// DroppedCallsTotal counts calls rejected before dispatch.
	DroppedCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailymotion_api_dropped_calls_total",
		Help: "Total number of API calls dropped before dispatch, by reason.",
	}, []string{"reason"})

	// BatchesTotal counts flushed batches by transport.
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailymotion_api_batches_total",
		Help: "Total number of batches flushed, by transport.",
	}, []string{"transport"})

	// BatchSize observes the number of calls per flushed batch.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dailymotion_api_batch_size",
		Help:    "Number of calls per flushed batch.",
		Buckets: []float64{1, 2, 3, 5, 8, 10},
	})

	// ResponseErrorsTotal counts error deliveries by kind
	// (transport, protocol, server).
	ResponseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailymotion_api_response_errors_total",
		Help: "Total number of error results delivered to callers, by kind.",
	}, []string{"kind"})

	// TransportSelected records the transport chosen at first use.
	TransportSelected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dailymotion_api_transport_selected",
		Help: "1 for the transport selected for this process.",
	}, []string{"transport"})

	// RefreshTotal counts token refresh outcomes
	// (success, failure, skipped).
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailymotion_auth_refresh_total",
		Help: "Total number of token refresh resolutions, by outcome.",
	}, []string{"outcome"})

	// RefreshWaiters observes how many callers shared one refresh.
	RefreshWaiters = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dailymotion_auth_refresh_waiters",
		Help:    "Number of callers resolved by a single refresh.",
		Buckets: prometheus.LinearBuckets(1, 2, 6),
	})

	// LoginsTotal counts finished login attempts by outcome
	// (connected, denied, error).
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailymotion_auth_logins_total",
		Help: "Total number of finished login attempts, by outcome.",
	}, []string{"outcome"})

	// ActiveLogins tracks login attempts waiting for a response.
	ActiveLogins = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dailymotion_auth_active_logins",
		Help: "Current number of login attempts waiting for a response.",
	})

	// PlayerEventsTotal counts inbound player events by event name.
	PlayerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailymotion_player_events_total",
		Help: "Total number of player events received, by event.",
	}, []string{"event"})
)
