package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"scorer/pkg/domain"
	dErrors "scorer/pkg/domain-errors"
)

// ScorerType selects the scoring strategy of a community.
type ScorerType string

const (
	ScorerWeighted ScorerType = "weighted"
	ScorerBinary   ScorerType = "binary"
)

// ParseScorerType normalises external input. An empty value selects weighted.
func ParseScorerType(s string) (ScorerType, error) {
	switch ScorerType(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScorerWeighted:
		return ScorerWeighted, nil
	case ScorerBinary:
		return ScorerBinary, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported scorer type: "+s)
	}
}

// ScorerConfig maps providers to weights. Threshold is only meaningful for binary scorers.
type ScorerConfig struct {
	Type      ScorerType                 `json:"type"`
	Weights   map[string]decimal.Decimal `json:"weights"`
	Threshold decimal.Decimal            `json:"threshold"`
}

// Weight returns the configured weight for provider, zero when absent.
func (c ScorerConfig) Weight(provider string) decimal.Decimal {
	return c.Weights[provider]
}

// Community is a scoring tenant.
//
// Invariants:
//   - ID is positive once persisted
//   - Rule is LIFO or FIFO
//   - weights are non-negative; a binary threshold is non-negative
type Community struct {
	ID        domain.CommunityID
	Name      string
	Rule      domain.DedupRule
	Scorer    ScorerConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCommunity validates and constructs a community. The ID is assigned by the store.
func NewCommunity(name string, rule domain.DedupRule, scorer ScorerConfig, now time.Time) (*Community, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "community name cannot be empty")
	}
	if rule == "" {
		rule = domain.DedupLIFO
	}
	if !rule.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid deduplication rule")
	}
	if err := scorer.Validate(); err != nil {
		return nil, err
	}
	return &Community{
		Name:      name,
		Rule:      rule,
		Scorer:    scorer,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks the scorer configuration invariants.
func (c ScorerConfig) Validate() error {
	if _, err := ParseScorerType(string(c.Type)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "invalid scorer")
	}
	for provider, w := range c.Weights {
		if strings.TrimSpace(provider) == "" {
			return dErrors.New(dErrors.CodeInvariantViolation, "weight provider cannot be empty")
		}
		if w.IsNegative() {
			return dErrors.New(dErrors.CodeInvariantViolation, "weight for "+provider+" is negative")
		}
	}
	if c.Threshold.IsNegative() {
		return dErrors.New(dErrors.CodeInvariantViolation, "threshold is negative")
	}
	return nil
}
