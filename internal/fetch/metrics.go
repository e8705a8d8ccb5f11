package fetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors of the fetch session. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	AttemptsTotal   *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec
	OutcomesTotal   *prometheus.CounterVec
	AttemptDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_attempts_total",
			Help: "Fetch attempts by result.",
		},
		[]string{"result"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_retries_total",
			Help: "Retries scheduled by reason.",
		},
		[]string{"reason"},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_outcomes_total",
			Help: "Terminal fetch outcomes by kind.",
		},
		[]string{"kind"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetch_attempt_duration_seconds",
			Help:    "Latency of a single fetch attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(attempts, retries, outcomes, duration)

	return &Metrics{
		Registry:        registry,
		AttemptsTotal:   attempts,
		RetriesTotal:    retries,
		OutcomesTotal:   outcomes,
		AttemptDuration: duration,
	}
}

func (m *Metrics) IncAttempt(result string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRetry(reason string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncOutcome(k Kind) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) ObserveAttempt(d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptDuration.Observe(d.Seconds())
}
