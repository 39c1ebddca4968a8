// Package metrics holds the Prometheus collectors for the gateway and workers.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_http_requests_total",
			Help: "Total HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paygate_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	PaymentOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_payment_outcomes_total",
			Help: "Payment gate outcomes on protected routes.",
		},
		[]string{"outcome"}, // challenged, invalid, settled, settle_failed, facilitator_error, session_paid
	)

	SessionsMarkedPaidTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paygate_sessions_marked_paid_total",
			Help: "Sessions marked paid after a settled payment.",
		},
	)

	CooldownOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_cooldown_outcomes_total",
			Help: "Cooldown coordinator outcomes per trigger.",
		},
		[]string{"outcome"}, // claimed, followed, rejected
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_jobs_total",
			Help: "Jobs processed by queue and outcome.",
		},
		[]string{"queue", "status"}, // completed, retried, failed
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paygate_job_duration_seconds",
			Help:    "Time spent processing a job attempt.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"queue"},
	)

	SSEStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paygate_sse_streams_active",
			Help: "Open task event streams.",
		},
	)
)

// MustRegister registers every collector with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PaymentOutcomesTotal,
		SessionsMarkedPaidTotal,
		CooldownOutcomesTotal,
		JobsTotal,
		JobDuration,
		SSEStreamsActive,
	)
}

func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordPaymentOutcome(outcome string) {
	PaymentOutcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordSessionMarkedPaid() {
	SessionsMarkedPaidTotal.Inc()
}

func RecordCooldownOutcome(outcome string) {
	CooldownOutcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordJob(queue, status string, d time.Duration) {
	JobsTotal.WithLabelValues(queue, status).Inc()
	JobDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// SSEStreamOpened increments the open-stream gauge and returns the matching
// decrement.
func SSEStreamOpened() func() {
	SSEStreamsActive.Inc()
	return SSEStreamsActive.Dec
}
