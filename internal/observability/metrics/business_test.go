package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordTick(t *testing.T) {
	tests := []struct {
		name     string
		category string
		due      int
	}{
		{name: "some due", category: "news", due: 10},
		{name: "none due", category: "news", due: 0},
		{name: "large batch", category: "watches", due: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordTick(tt.category, tt.due)
			})
		})
	}
}

func TestRecordAction(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		outcome string
	}{
		{name: "head ok", action: "head", outcome: "ok"},
		{name: "get ok", action: "get", outcome: "ok"},
		{name: "head err", action: "head", outcome: "err"},
		{name: "get err", action: "get", outcome: "err"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordAction(tt.action, tt.outcome)
			})
		})
	}
}

func TestRecordHTTPOutcome(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		origin   string
		status   int
		duration time.Duration
	}{
		{name: "ok response", action: "get", origin: "example.com", status: 200, duration: 100 * time.Millisecond},
		{name: "not modified", action: "head", origin: "example.com", status: 304, duration: 10 * time.Millisecond},
		{name: "zero status (transport error)", action: "get", origin: "example.com", status: 0, duration: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordHTTPOutcome(tt.action, tt.origin, tt.status, tt.duration)
			})
		})
	}
}

func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		duration time.Duration
	}{
		{name: "insert state", query: "insert_state", duration: 5 * time.Millisecond},
		{name: "due feeds", query: "due_feeds_for_category", duration: 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				RecordDBQuery(tt.query, tt.duration)
			})
		})
	}
}

func TestInflightActionStarted(t *testing.T) {
	assert.NotPanics(t, func() {
		done := InflightActionStarted()
		done()
	})
}

func TestMetricsFunctions_AllCallable(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordTick("news", 5)
		RecordAction("head", "ok")
		RecordHTTPOutcome("head", "example.com", 200, 10*time.Millisecond)
		RecordDBQuery("insert_state", 2*time.Millisecond)
		done := InflightActionStarted()
		done()
	})
}
