// Package observability exposes Prometheus metrics, health checks and the
// HTTP server that serves them for a runlog deployment.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runlog_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"op", "status"},
	)

	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runlog_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	eventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runlog_events_appended_total",
			Help: "Total number of events appended",
		},
	)

	duplicateEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runlog_duplicate_events_total",
			Help: "Total number of rejected duplicate event appends",
		},
	)

	// Run metrics
	runExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runlog_run_executions_total",
			Help: "Total number of run executions",
		},
		[]string{"status"},
	)

	runExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runlog_run_execution_duration_seconds",
			Help:    "Run execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runlog_tokens_total",
			Help: "Total provider tokens consumed",
		},
		[]string{"direction"},
	)

	// System metrics
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "runlog_sessions_active",
			Help: "Number of sessions currently stored",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			storeOperationsTotal,
			storeOperationDuration,
			eventsAppendedTotal,
			duplicateEventsTotal,
			runExecutionsTotal,
			runExecutionDuration,
			tokensTotal,
			sessionsActive,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordStoreOperation records one store operation.
func RecordStoreOperation(op, status string, duration time.Duration) {
	storeOperationsTotal.WithLabelValues(op, status).Inc()
	storeOperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordEventAppended counts a successful event append.
func RecordEventAppended() {
	eventsAppendedTotal.Inc()
}

// RecordDuplicateEvent counts a rejected duplicate append.
func RecordDuplicateEvent() {
	duplicateEventsTotal.Inc()
}

// RecordRunExecution records one run execution outcome.
func RecordRunExecution(status string, duration time.Duration) {
	runExecutionsTotal.WithLabelValues(status).Inc()
	runExecutionDuration.Observe(duration.Seconds())
}

// RecordTokens counts provider token usage.
func RecordTokens(input, output int) {
	tokensTotal.WithLabelValues("input").Add(float64(input))
	tokensTotal.WithLabelValues("output").Add(float64(output))
}

// SetSessionsActive sets the stored-sessions gauge.
func SetSessionsActive(count int) {
	sessionsActive.Set(float64(count))
}
