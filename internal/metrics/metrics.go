// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "girasol"

var (
	// catalogOps counts catalog requests by operation and result code.
	catalogOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "operations_total",
		Help:      "Catalog operations by op and result code",
	}, []string{"op", "code"})

	catalogDefinitions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "definitions",
		Help:      "Number of stored trace definitions",
	})

	catalogSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "sync_failures_total",
		Help:      "Background flushes that failed",
	})

	executionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "supervisor",
		Name:      "executions_running",
		Help:      "Executions currently registered with the supervisor",
	})

	// executionsFinished counts terminal executions by state and method.
	executionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "supervisor",
		Name:      "executions_finished_total",
		Help:      "Executions that reached a terminal state",
	}, []string{"state", "method"})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "supervisor",
		Name:      "execution_duration_seconds",
		Help:      "Wall time from spawn to terminal state",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"method"})

	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "connections",
		Help:      "Open websocket connections",
	})

	// frames counts frames by direction (in, out) and type.
	frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "frames_total",
		Help:      "Frames read and written",
	}, []string{"direction", "type"})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because the connection was closed",
	})
)

// RecordCatalogOp records one catalog request. code is an errdefs wire code
// or "ok".
func RecordCatalogOp(op, code string) {
	catalogOps.WithLabelValues(op, code).Inc()
}

// SetCatalogDefinitions sets the stored definition count.
func SetCatalogDefinitions(n int) {
	catalogDefinitions.Set(float64(n))
}

// RecordCatalogSyncFailure counts a failed background flush.
func RecordCatalogSyncFailure() {
	catalogSyncFailures.Inc()
}

// SetExecutionsRunning sets the number of registered executions.
func SetExecutionsRunning(n int) {
	executionsRunning.Set(float64(n))
}

// RecordExecutionFinished records a terminal execution.
func RecordExecutionFinished(state, method string, seconds float64) {
	executionsFinished.WithLabelValues(state, method).Inc()
	executionDuration.WithLabelValues(method).Observe(seconds)
}

// ConnectionOpened and ConnectionClosed track open connections.
func ConnectionOpened() { connections.Inc() }
func ConnectionClosed() { connections.Dec() }

// RecordFrame counts a frame. direction is "in" or "out".
func RecordFrame(direction, frameType string) {
	frames.WithLabelValues(direction, frameType).Inc()
}

// RecordFrameDropped counts a frame that could not be queued.
func RecordFrameDropped() {
	framesDropped.Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
