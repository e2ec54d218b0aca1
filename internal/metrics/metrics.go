// Package metrics exposes the agent's Prometheus series: ingestion
// throughput, buffer occupancy, adapter connection state, HTTP traffic,
// and active streaming sessions.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mtcagent"

var (
	ObservationsAppendedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_appended_total",
		Help:      "Total observations appended to the buffer, by data item type.",
	}, []string{"data_item_type"})

	ObservationsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_dropped_total",
		Help:      "Total observations dropped before reaching the buffer, by reason.",
	}, []string{"reason"})

	BufferOccupancy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_occupancy",
		Help:      "Number of observations currently retained in the circular buffer.",
	})

	AdapterConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "adapter_connections",
		Help:      "Number of adapter connections in each connection state.",
	}, []string{"state"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed, by method, route, and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	StreamingSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "streaming_sessions_active",
		Help:      "Number of currently open multipart streaming sample sessions.",
	})
)

func init() {
	prometheus.MustRegister(
		ObservationsAppendedTotal,
		ObservationsDroppedTotal,
		BufferOccupancy,
		AdapterConnections,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StreamingSessionsActive,
	)
}

// PipelineMetrics adapts the package-level counters to the
// pipeline.Metrics interface so internal/pipeline never imports
// internal/metrics directly.
type PipelineMetrics struct{}

func (PipelineMetrics) ObservationAppended(dataItemType string) {
	ObservationsAppendedTotal.WithLabelValues(dataItemType).Inc()
}

func (PipelineMetrics) ObservationDropped(reason string) {
	ObservationsDroppedTotal.WithLabelValues(reason).Inc()
}

// HTTPRequestMetrics implements httpapi.RequestMetrics, recording one
// observation per request the dispatcher finishes handling.
type HTTPRequestMetrics struct{}

func (HTTPRequestMetrics) Observe(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
