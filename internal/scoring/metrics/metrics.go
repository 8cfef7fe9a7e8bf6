package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the scoring pipeline.
type Metrics struct {
	// Terminal submission outcomes by status and operation
	Outcomes *prometheus.CounterVec

	// Per-step latency: validate, deduplicate, persist, score
	StepLatency *prometheus.HistogramVec

	// Submitted stamps that never reached deduplication, by reason
	StampsDropped *prometheus.CounterVec

	// Passports queued or rescored inline after losing stamps
	Rescheduled prometheus.Counter

	// Jobs handled by the worker pool, by kind and result
	Jobs *prometheus.CounterVec
}

// New registers the scoring metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scorer_score_outcomes_total",
			Help: "Score computations by final status and operation",
		}, []string{"status", "operation"}),

		StepLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scorer_step_duration_seconds",
			Help:    "Duration of scoring pipeline steps",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"step"}),

		StampsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scorer_stamps_dropped_total",
			Help: "Submitted stamps dropped before deduplication",
		}, []string{"reason"}),

		Rescheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "scorer_rescheduled_passports_total",
			Help: "Passports scheduled for rescoring after a stamp transfer",
		}),

		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scorer_jobs_total",
			Help: "Queue jobs processed by kind and result",
		}, []string{"kind", "result"}),
	}
}

func (m *Metrics) IncrementOutcome(status, operation string) {
	if m != nil {
		m.Outcomes.WithLabelValues(status, operation).Inc()
	}
}

func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m != nil {
		m.StepLatency.WithLabelValues(step).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementDropped(reason string) {
	if m != nil {
		m.StampsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AddRescheduled(n int) {
	if m != nil {
		m.Rescheduled.Add(float64(n))
	}
}

func (m *Metrics) IncrementJob(kind, result string) {
	if m != nil {
		m.Jobs.WithLabelValues(kind, result).Inc()
	}
}
