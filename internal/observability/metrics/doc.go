// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all application metrics including:
//   - HTTP request metrics of the health/metrics server (count, duration, active connections)
//   - Scheduler metrics (ticks, due feeds, actions, outbound HTTP latency and status codes)
//   - Persistence query latency
//   - In-flight scheduler actions
//
// All metrics are automatically registered with the Prometheus default registry
// and exposed via the /metrics endpoint.
//
// Example usage:
//
//	import "github.com/sguzman/pulsewire-sub000/internal/observability/metrics"
//
//	func fetch(origin string) {
//	    done := metrics.InflightActionStarted()
//	    defer done()
//	    start := time.Now()
//	    // ... issue the GET ...
//
//	    metrics.RecordHTTPOutcome("get", origin, 200, time.Since(start))
//	    metrics.RecordAction("get", "ok")
//	}
package metrics
