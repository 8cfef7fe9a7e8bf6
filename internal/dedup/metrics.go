package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"scorer/pkg/domain"
)

// Metrics tracks deduplication outcomes.
type Metrics struct {
	Clashes         *prometheus.CounterVec
	ClaimRetries    prometheus.Counter
	IntegrityErrors prometheus.Counter
}

// NewMetrics registers deduplication metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Clashes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scorer_dedup_clashes_total",
			Help: "Stamps resolved against another address, by rule",
		}, []string{"rule"}),
		ClaimRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "scorer_dedup_claim_retries_total",
			Help: "Claim index conflicts that triggered a retry",
		}),
		IntegrityErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "scorer_dedup_integrity_errors_total",
			Help: "Submissions failed because a claim kept conflicting",
		}),
	}
}

func (m *Metrics) addClashes(rule domain.DedupRule, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Clashes.WithLabelValues(rule.String()).Add(float64(n))
}

func (m *Metrics) incClaimRetry() {
	if m != nil {
		m.ClaimRetries.Inc()
	}
}

func (m *Metrics) incIntegrityError() {
	if m != nil {
		m.IntegrityErrors.Inc()
	}
}
