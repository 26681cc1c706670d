// Package metrics provides Prometheus metrics for remote sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	sessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotesh_session_transitions_total",
			Help: "Total number of session state transitions by target state",
		},
		[]string{"state"},
	)

	// Command metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotesh_commands_total",
			Help: "Total number of remote commands by outcome",
		},
		[]string{"outcome"},
	)

	commandDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "remotesh_command_duration_seconds",
			Help:    "Remote command duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	commandQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remotesh_command_queue_depth",
			Help: "Number of commands waiting for the command worker",
		},
	)

	// Transfer metrics
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotesh_transfers_total",
			Help: "Total number of finished transfers by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	transferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotesh_transfer_bytes_total",
			Help: "Total bytes moved by completed transfers",
		},
		[]string{"direction"},
	)

	transfersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remotesh_transfers_active",
			Help: "Number of transfers currently holding a concurrency slot",
		},
	)

	// Event bus metrics
	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotesh_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
		[]string{"type"},
	)
)

// RecordSessionTransition records a session moving into state.
func RecordSessionTransition(state string) {
	sessionTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordCommand records a finished command. outcome is one of
// "ok", "failed", "timeout" or "drained".
func RecordCommand(outcome string, duration time.Duration) {
	commandsTotal.WithLabelValues(outcome).Inc()
	if outcome != "drained" {
		commandDuration.Observe(duration.Seconds())
	}
}

// SetCommandQueueDepth reports how many commands wait behind the in-flight one.
func SetCommandQueueDepth(n int) {
	commandQueueDepth.Set(float64(n))
}

// RecordTransfer records a transfer reaching a terminal state.
func RecordTransfer(direction, outcome string, bytes int64) {
	transfersTotal.WithLabelValues(direction, outcome).Inc()
	if outcome == "completed" && bytes > 0 {
		transferBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// TransferStarted increments the active transfer gauge.
func TransferStarted() {
	transfersActive.Inc()
}

// TransferFinished decrements the active transfer gauge.
func TransferFinished() {
	transfersActive.Dec()
}

// RecordDroppedEvent records an event dropped for one subscriber.
func RecordDroppedEvent(eventType string) {
	eventsDroppedTotal.WithLabelValues(eventType).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
