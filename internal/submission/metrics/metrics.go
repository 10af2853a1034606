// Package metrics holds the Prometheus collectors for the submission tracker.
// Every method is safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions       *prometheus.CounterVec
	Attempts          *prometheus.CounterVec
	Failures          *prometheus.CounterVec
	Alerts            prometheus.Counter
	TransmitDuration  prometheus.Histogram
	PipelineDuration  *prometheus.HistogramVec
	PendingRetries    prometheus.Gauge
	AcknowledgmentAge prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "efile_submission_transitions_total",
			Help: "Submission status transitions",
		}, []string{"from", "to"}),
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "efile_submission_transmission_attempts_total",
			Help: "Transmission attempts by outcome",
		}, []string{"outcome"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "efile_submission_failures_total",
			Help: "Classified failures by category and retryability",
		}, []string{"category", "retryable"}),
		Alerts: f.NewCounter(prometheus.CounterOpts{
			Name: "efile_submission_alerts_total",
			Help: "Alerts raised for submissions that reached FAILED",
		}),
		TransmitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "efile_submission_transmit_duration_seconds",
			Help:    "Latency of transmission calls to MeF",
			Buckets: prometheus.DefBuckets,
		}),
		PipelineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "efile_pipeline_stage_duration_seconds",
			Help:    "Latency of each pipeline stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"stage"}),
		PendingRetries: f.NewGauge(prometheus.GaugeOpts{
			Name: "efile_submission_pending_retries",
			Help: "Retries currently scheduled",
		}),
		AcknowledgmentAge: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "efile_acknowledgment_latency_seconds",
			Help:    "Time from transmission to final acknowledgment",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		}),
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveAttempt(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
	m.TransmitDuration.Observe(d.Seconds())
}

func (m *Metrics) IncFailure(category string, retryable bool) {
	if m == nil {
		return
	}
	r := "false"
	if retryable {
		r = "true"
	}
	m.Failures.WithLabelValues(category, r).Inc()
}

func (m *Metrics) IncAlerts() {
	if m == nil {
		return
	}
	m.Alerts.Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RetryScheduled() {
	if m == nil {
		return
	}
	m.PendingRetries.Inc()
}

func (m *Metrics) RetryDequeued() {
	if m == nil {
		return
	}
	m.PendingRetries.Dec()
}

func (m *Metrics) ObserveAcknowledgment(d time.Duration) {
	if m == nil {
		return
	}
	m.AcknowledgmentAge.Observe(d.Seconds())
}
