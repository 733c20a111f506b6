package metrics

import (
	"strconv"
	"time"
)

// RecordTick records that an orchestrator tick ran for a category and how
// many feeds it selected as due.
func RecordTick(category string, dueFeeds int) {
	SchedulerTicksTotal.WithLabelValues(category).Inc()
	SchedulerTickDueFeeds.WithLabelValues(category).Observe(float64(dueFeeds))
}

// RecordAction records the outcome of a single head/get executor action.
// action should be "head" or "get"; outcome should be "ok" or "err".
func RecordAction(action, outcome string) {
	SchedulerActionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordHTTPOutcome records outbound HTTP latency and status code for a
// single head/get call against an origin.
func RecordHTTPOutcome(action, origin string, status int, duration time.Duration) {
	SchedulerHTTPLatency.WithLabelValues(action, origin).Observe(duration.Seconds())
	if status > 0 {
		SchedulerHTTPStatusTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
	}
}

// RecordDBQuery records the duration of a named persistence query.
func RecordDBQuery(query string, duration time.Duration) {
	SchedulerDBLatency.WithLabelValues(query).Observe(duration.Seconds())
}

// InflightActionStarted increments the in-flight action gauge; the caller
// must invoke the returned func exactly once when the action completes.
func InflightActionStarted() func() {
	SchedulerInflightActions.Inc()
	return func() { SchedulerInflightActions.Dec() }
}
