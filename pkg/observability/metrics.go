// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the starbox service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets defines histogram buckets suited for snippet run times,
// ranging from 1ms to the default 10s deadline and a little beyond.
var ExecutionBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 15}

// RequestBuckets defines histogram buckets for HTTP requests, which include
// transport overhead on top of execution.
var RequestBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}

var (
	// ExecutionsTotal counts finished executions by status and failure kind.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbox_executions_total",
			Help: "Snippet executions",
		},
		[]string{"status", "kind"},
	)

	// ExecutionDuration records execution time in seconds by status.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starbox_execution_duration_seconds",
			Help:    "Snippet execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"status"},
	)

	// ExecutionsInflight tracks executions currently holding a slot.
	ExecutionsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "starbox_executions_inflight",
			Help: "Executions in flight",
		},
	)

	// CaptureTeardownFailuresTotal counts runs whose output capture could not
	// be detached.
	CaptureTeardownFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "starbox_capture_teardown_failures_total",
			Help: "Output capture teardown failures",
		},
	)

	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbox_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starbox_request_duration_seconds",
			Help:    "Request duration",
			Buckets: RequestBuckets,
		},
		[]string{"method"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbox_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)

	// AuditErrorsTotal counts audit store failures by operation.
	AuditErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbox_audit_errors_total",
			Help: "Audit store errors",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		ExecutionsInflight,
		CaptureTeardownFailuresTotal,
		RequestsTotal,
		RequestDuration,
		RateLimitRejectedTotal,
		AuditErrorsTotal,
	)
}
