// Package metrics provides centralized Prometheus metrics for the scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track the A3 health/metrics server's own request patterns.
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// ActiveConnections tracks the number of active HTTP connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_connections",
			Help: "Number of active HTTP connections",
		},
	)
)

// Scheduler metrics track the tick/executor loop.
var (
	// SchedulerTicksTotal counts orchestrator ticks per category.
	SchedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of orchestrator ticks run, by category",
		},
		[]string{"category"},
	)

	// SchedulerTickDueFeeds records how many feeds were selected as due on a tick.
	SchedulerTickDueFeeds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_due_feeds",
			Help:    "Number of due feeds selected per tick",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"category"},
	)

	// SchedulerActionsTotal counts executor actions by kind and outcome.
	SchedulerActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_actions_total",
			Help: "Total number of scheduler actions, by action kind and outcome",
		},
		[]string{"action", "outcome"}, // action: head,get ; outcome: ok,err
	)

	// SchedulerHTTPLatency measures outbound HTTP latency for head/get actions.
	SchedulerHTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_http_latency_seconds",
			Help:    "Outbound HTTP latency for scheduler actions, by action and origin",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"action", "origin"},
	)

	// SchedulerHTTPStatusTotal counts outbound HTTP responses by action and status code.
	SchedulerHTTPStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_http_status_total",
			Help: "Total outbound HTTP responses, by action and status code",
		},
		[]string{"action", "status"},
	)

	// SchedulerDBLatency measures persistence query latency by logical query name.
	SchedulerDBLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_db_latency_seconds",
			Help:    "Persistence query latency, by query name",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"query"},
	)

	// SchedulerInflightActions gauges the number of head/get actions currently executing.
	SchedulerInflightActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_inflight_actions",
			Help: "Number of scheduler actions currently in flight",
		},
	)
)

// RecordHTTPRequest records an HTTP request served by the health/metrics server.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
