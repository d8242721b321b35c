// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the document authentication pipeline.
package observability

import "github.com/prometheus/client_golang/prometheus"

// PipelineBuckets defines histogram buckets suited for a pipeline whose
// steps are bounded by 5s and 30s outbound call timeouts.
var PipelineBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

var (
	// OutcomesTotal counts published authentication outcomes by status code.
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carpeta_outcomes_total",
			Help: "Authentication outcomes published",
		},
		[]string{"status"},
	)

	// ProcessingDuration records end-to-end orchestration duration in seconds.
	ProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "carpeta_processing_duration_seconds",
			Help:    "Orchestration duration",
			Buckets: PipelineBuckets,
		},
	)

	// ExternalRequestsTotal counts outbound calls by dependency and result.
	ExternalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carpeta_external_requests_total",
			Help: "Outbound external service calls",
		},
		[]string{"service", "status"},
	)

	// BreakerState tracks circuit breaker state per dependency
	// (0 closed, 1 open, 2 half-open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carpeta_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)

	// ConsumerInflight tracks request events currently being processed.
	ConsumerInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "carpeta_consumer_inflight",
			Help: "Request events in flight",
		},
	)

	// IntakeRequestsTotal counts intake HTTP requests by response status.
	IntakeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carpeta_intake_requests_total",
			Help: "Intake HTTP requests",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		OutcomesTotal,
		ProcessingDuration,
		ExternalRequestsTotal,
		BreakerState,
		ConsumerInflight,
		IntakeRequestsTotal,
	)
}
