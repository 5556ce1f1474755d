// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SyncCyclesTotal tracks sync cycles by outcome.
	SyncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cycles_total",
			Help: "Sync engine cycles by outcome",
		},
		[]string{"outcome", "forced"},
	)

	// SyncDuration tracks how long a sync cycle that reached the remote service took.
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Sync cycle duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// UnreadTotal tracks the aggregate unread count of the last snapshot.
	UnreadTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "unread_messages",
			Help: "Aggregate unread count of the persisted snapshot",
		},
	)

	// PartialFetchFailures tracks conversations skipped during a sync cycle.
	PartialFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_partial_fetch_failures_total",
			Help: "Conversations skipped because their detail or messages failed to load",
		},
	)

	// BackoffSeconds tracks the rate limiter's current backoff duration.
	BackoffSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_backoff_seconds",
			Help: "Current backoff duration of the rate limiter",
		},
	)

	// RateLimited is 1 while the remote service has declared a cool-down.
	RateLimited = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_limited",
			Help: "Whether the remote service is currently rate limiting us",
		},
	)

	// RouterRequestsTotal tracks protocol router requests.
	RouterRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_requests_total",
			Help: "Cross-context protocol requests by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// SocketConnectionsActive tracks open WebSocket transport connections.
	SocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "socket_connections_active",
			Help: "Number of active WebSocket protocol connections",
		},
	)

	// WidgetPollsTotal tracks widget polls by result.
	WidgetPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_polls_total",
			Help: "Widget polls by result",
		},
		[]string{"result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordSync records metrics for a finished sync cycle.
func RecordSync(outcome string, forced bool, duration float64) {
	label := "false"
	if forced {
		label = "true"
	}
	SyncCyclesTotal.WithLabelValues(outcome, label).Inc()
	if duration > 0 {
		SyncDuration.Observe(duration)
	}
}

// RecordRateLimit mirrors the limiter state into gauges.
func RecordRateLimit(limited bool, backoffSeconds float64) {
	if limited {
		RateLimited.Set(1)
	} else {
		RateLimited.Set(0)
	}
	BackoffSeconds.Set(backoffSeconds)
}

// IncrementSocketConnections increments the active WebSocket connection count.
func IncrementSocketConnections() {
	SocketConnectionsActive.Inc()
}

// DecrementSocketConnections decrements the active WebSocket connection count.
func DecrementSocketConnections() {
	SocketConnectionsActive.Dec()
}
