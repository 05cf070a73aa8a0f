// Package metrics holds the Prometheus collectors of the check-in backend.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

var (
	// Job metrics
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcheckin_jobs_started_total",
			Help: "Total number of jobs accepted",
		},
		[]string{"kind"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcheckin_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"kind", "state"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mathcheckin_job_duration_seconds",
			Help:    "Wall time from job start to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"kind"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mathcheckin_jobs_registered",
			Help: "Jobs currently held by the in-memory registry",
		},
	)

	// Batch pipeline metrics
	SegmentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcheckin_segments_processed_total",
			Help: "Total number of PDF segments processed by outcome",
		},
		[]string{"outcome"}, // "uploaded", "unmatched", "ambiguous", "failed"
	)

	FileHostUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcheckin_filehost_uploads_total",
			Help: "Total number of file host uploads by result",
		},
		[]string{"result"}, // "success", "error", "refreshed", "rejected"
	)

	FileHostUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mathcheckin_filehost_upload_duration_seconds",
			Help:    "Duration of file host uploads",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mathcheckin_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcheckin_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Stream metrics
	StreamSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mathcheckin_stream_subscribers",
			Help: "Currently attached progress stream subscribers",
		},
		[]string{"transport"}, // "sse", "websocket"
	)

	StreamEventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcheckin_stream_events_sent_total",
			Help: "Total number of progress events written to clients",
		},
		[]string{"transport"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcheckin_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mathcheckin_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordAPIRequest records one served request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordJobFinished counts a terminal job and observes its duration.
func RecordJobFinished(kind, state string, duration time.Duration) {
	JobsFinished.WithLabelValues(kind, state).Inc()
	JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordBreakerTransition updates the state gauge and transition counter.
func RecordBreakerTransition(name string, from, to gobreaker.State) {
	CircuitBreakerState.WithLabelValues(name).Set(BreakerStateValue(to))
	CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// BreakerStateValue maps a breaker state onto the gauge encoding.
func BreakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
