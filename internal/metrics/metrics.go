// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package metrics provides Prometheus metrics for every component of the sync
engine. Collectors are registered with the default registry via promauto and
exposed at /metrics.

	curl http://localhost:8470/metrics
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event Store Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crossplay_store_operation_duration_seconds",
			Help:    "Duration of event store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"}, // operation: append, all, since, latest
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_store_errors_total",
			Help: "Total number of event store operation failures",
		},
		[]string{"backend", "operation"},
	)

	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_events_appended_total",
			Help: "Total number of submitted events by outcome",
		},
		[]string{"session_kind", "result"}, // result: stored, duplicate
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossplay_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_api_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crossplay_api_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossplay_api_active_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_api_rate_limit_hits_total",
			Help: "Requests rejected by the HTTP rate limiter",
		},
		[]string{"endpoint"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossplay_websocket_connections",
			Help: "Number of open realtime connections",
		},
	)

	WSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_websocket_messages_received_total",
			Help: "Inbound frames by message type",
		},
		[]string{"type"},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_websocket_messages_sent_total",
			Help: "Outbound frames by message type",
		},
		[]string{"type"},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_websocket_errors_total",
			Help: "Error notices sent to connections by code",
		},
		[]string{"code"},
	)

	WSSlowConsumerDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crossplay_websocket_slow_consumer_disconnects_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)

	// Session Registry Metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossplay_sessions_active",
			Help: "Sessions with at least one joined connection",
		},
	)

	SessionMemberships = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossplay_session_memberships",
			Help: "Live (connection, session) memberships",
		},
	)

	BroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crossplay_broadcast_deliveries_total",
			Help: "Event broadcasts queued to recipients",
		},
	)

	// Dispatcher Metrics
	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossplay_dispatch_queue_depth",
			Help: "Jobs waiting across all dispatcher shards",
		},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crossplay_dispatch_duration_seconds",
			Help:    "Time to append and broadcast one submitted event",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
	)

	// Rate Limiter Metrics
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_rate_limit_rejections_total",
			Help: "Events rejected by the rate limiter by exceeded scope",
		},
		[]string{"scope"}, // connection, actor
	)

	RateLimitEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossplay_rate_limit_entries",
			Help: "Tracked rate limit windows",
		},
		[]string{"scope"},
	)

	RateLimitEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_rate_limit_evictions_total",
			Help: "Rate limit windows removed by reason",
		},
		[]string{"reason"}, // ttl, capacity
	)

	// Sync Metrics
	SyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_sync_requests_total",
			Help: "Catch-up requests by mode and result",
		},
		[]string{"mode", "result"}, // mode: full, incremental
	)

	SyncEventsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crossplay_sync_events_returned",
			Help:    "Events returned per catch-up response",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// Auth Metrics
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_auth_failures_total",
			Help: "Rejected credentials and access checks by reason",
		},
		[]string{"reason"},
	)

	// Recovery Metrics (client side)
	RecoveryTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossplay_recovery_transitions_total",
			Help: "Recovery coordinator state transitions",
		},
		[]string{"from", "to"},
	)

	RecoveryReplayedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crossplay_recovery_replayed_events_total",
			Help: "Pending events replayed after reconnect",
		},
	)

	RecoveryApplyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crossplay_recovery_apply_failures_total",
			Help: "Catch-up events the application could not apply",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossplay_app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordStoreOperation records the latency and outcome of one store call.
func RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordAppend counts a stored or duplicate append.
func RecordAppend(sessionKind string, duplicate bool) {
	result := "stored"
	if duplicate {
		result = "duplicate"
	}
	EventsAppended.WithLabelValues(sessionKind, result).Inc()
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordSync records one catch-up request.
func RecordSync(incremental bool, events int, err error) {
	mode := "full"
	if incremental {
		mode = "incremental"
	}
	if err != nil {
		SyncRequests.WithLabelValues(mode, "error").Inc()
		return
	}
	SyncRequests.WithLabelValues(mode, "ok").Inc()
	SyncEventsReturned.Observe(float64(events))
}
