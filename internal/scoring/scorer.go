// Package scoring turns a passport's current stamps into a score. This is pure domain logic:
// no I/O, no side effects.
package scoring

import (
	"time"

	"github.com/shopspring/decimal"

	cmodels "scorer/internal/community/models"
	"scorer/internal/passport/models"
	dErrors "scorer/pkg/domain-errors"
)

// Input is everything a scorer reads.
type Input struct {
	// Stamps are the passport's stored stamps after deduplication.
	Stamps []*models.Stamp
	// Clashing are credentials the submitter lost to another address, keyed by provider.
	Clashing map[string]*models.Credential
	Now      time.Time
}

// Result is a computed score.
type Result struct {
	Score          decimal.Decimal
	RawScore       decimal.Decimal
	Evidence       *models.Evidence
	StampScores    map[string]models.StampScore
	ExpirationDate *time.Time
}

// Scorer computes a score from a stamp set.
type Scorer interface {
	Compute(in Input) Result
}

// New builds the scorer configured for a community.
func New(cfg cmodels.ScorerConfig) (Scorer, error) {
	typ, err := cmodels.ParseScorerType(string(cfg.Type))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch typ {
	case cmodels.ScorerBinary:
		return &BinaryWeightedScorer{Weights: cfg.Weights, Threshold: cfg.Threshold}, nil
	case cmodels.ScorerWeighted:
		return &WeightedScorer{Weights: cfg.Weights}, nil
	}
	return nil, dErrors.New(dErrors.CodeInternal, "unhandled scorer type "+string(typ))
}

// WeightedScorer sums the weights of the distinct providers present.
type WeightedScorer struct {
	Weights map[string]decimal.Decimal
}

func (s *WeightedScorer) Compute(in Input) Result {
	raw, breakdown, expiration := sumWeights(s.Weights, in)
	return Result{
		Score:          raw,
		RawScore:       raw,
		StampScores:    breakdown,
		ExpirationDate: expiration,
	}
}

// BinaryWeightedScorer scores 1 when the weighted sum reaches Threshold, otherwise 0.
type BinaryWeightedScorer struct {
	Weights   map[string]decimal.Decimal
	Threshold decimal.Decimal
}

func (s *BinaryWeightedScorer) Compute(in Input) Result {
	raw, breakdown, expiration := sumWeights(s.Weights, in)
	passing := raw.GreaterThanOrEqual(s.Threshold)
	score := decimal.Zero
	if passing {
		score = decimal.NewFromInt(1)
	}
	return Result{
		Score:    score,
		RawScore: raw,
		Evidence: &models.Evidence{
			Type:      models.EvidenceTypeBinary,
			RawScore:  raw,
			Threshold: s.Threshold,
			Success:   passing,
		},
		StampScores:    breakdown,
		ExpirationDate: expiration,
	}
}

// sumWeights adds each provider's weight once. A provider stamped more than once contributes
// through its longest-lived stamp. Expired stamps and zero-weight providers contribute
// nothing and get no breakdown entry. The expiration is the soonest among contributing
// stamps, nil when none contribute.
func sumWeights(weights map[string]decimal.Decimal, in Input) (decimal.Decimal, map[string]models.StampScore, *time.Time) {
	best := make(map[string]*models.Stamp)
	for _, st := range in.Stamps {
		if st == nil || st.ExpiredAt(in.Now) {
			continue
		}
		w, ok := weights[st.Provider]
		if !ok || w.IsZero() {
			continue
		}
		if cur, ok := best[st.Provider]; !ok || st.ExpiresAt.After(cur.ExpiresAt) {
			best[st.Provider] = st
		}
	}

	raw := decimal.Zero
	breakdown := make(map[string]models.StampScore, len(best)+len(in.Clashing))
	var expiration *time.Time
	for provider, st := range best {
		w := weights[provider]
		raw = raw.Add(w)
		exp := st.ExpiresAt
		breakdown[provider] = models.StampScore{Score: w, ExpirationDate: &exp}
		if expiration == nil || exp.Before(*expiration) {
			e := exp
			expiration = &e
		}
	}

	for provider, cred := range in.Clashing {
		if _, kept := best[provider]; kept {
			continue
		}
		w, ok := weights[provider]
		if !ok || w.IsZero() {
			continue
		}
		breakdown[provider] = models.StampScore{Score: decimal.Zero, Dedup: true, ExpirationDate: cred.ExpirationDate}
	}

	return raw, breakdown, expiration
}

// Apply records r on score as a finished computation.
func (r Result) Apply(score *models.Score, now time.Time) {
	value := r.Score
	score.Status = models.ScoreStatusDone
	score.Score = &value
	score.Evidence = r.Evidence
	score.StampScores = r.StampScores
	score.ExpirationDate = r.ExpirationDate
	score.LastScoreTimestamp = &now
	score.Error = ""
}
