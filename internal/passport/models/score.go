package models

import (
	"time"

	"github.com/shopspring/decimal"

	"scorer/pkg/domain"
)

// ScoreStatus is the pollable state of a passport's score.
type ScoreStatus string

const (
	ScoreStatusProcessing ScoreStatus = "PROCESSING"
	ScoreStatusDone       ScoreStatus = "DONE"
	ScoreStatusError      ScoreStatus = "ERROR"
)

func (s ScoreStatus) String() string {
	return string(s)
}

// EvidenceTypeBinary tags evidence produced by the binary threshold scorer.
const EvidenceTypeBinary = "binary"

// Evidence explains a binary pass/fail decision.
type Evidence struct {
	Type      string          `json:"type"`
	RawScore  decimal.Decimal `json:"rawScore"`
	Threshold decimal.Decimal `json:"threshold"`
	Success   bool            `json:"success"`
}

// StampScore is the per-provider breakdown entry. Dedup marks a provider whose stamp was
// contested by another address.
type StampScore struct {
	Score          decimal.Decimal `json:"score"`
	Dedup          bool            `json:"dedup"`
	ExpirationDate *time.Time      `json:"expiration_date"`
}

// Score is the current result for a passport. One per passport, overwritten on every
// computation. Score is nil unless Status is DONE.
type Score struct {
	PassportID         domain.PassportID
	Score              *decimal.Decimal
	Status             ScoreStatus
	Evidence           *Evidence
	StampScores        map[string]StampScore
	ExpirationDate     *time.Time
	LastScoreTimestamp *time.Time
	Error              string
}

// MarkProcessing resets the score to PROCESSING, clearing any previous result.
func (s *Score) MarkProcessing() {
	s.Status = ScoreStatusProcessing
	s.Score = nil
	s.Evidence = nil
	s.StampScores = nil
	s.ExpirationDate = nil
	s.Error = ""
}

// MarkError records a terminal failure. The numeric score and expiration are cleared.
func (s *Score) MarkError(msg string, now time.Time) {
	s.Status = ScoreStatusError
	s.Score = nil
	s.Evidence = nil
	s.StampScores = nil
	s.ExpirationDate = nil
	s.Error = msg
	s.LastScoreTimestamp = &now
}

// ScoreResult is the view returned to callers and snapshotted into SCORE_UPDATE events.
type ScoreResult struct {
	Address            domain.Address        `json:"address"`
	CommunityID        domain.CommunityID    `json:"community_id"`
	Score              *decimal.Decimal      `json:"score"`
	Status             ScoreStatus           `json:"status"`
	Evidence           *Evidence             `json:"evidence,omitempty"`
	StampScores        map[string]StampScore `json:"stamp_scores"`
	Error              string                `json:"error,omitempty"`
	ExpirationDate     *time.Time            `json:"expiration_date,omitempty"`
	LastScoreTimestamp *time.Time            `json:"last_score_timestamp,omitempty"`
}

// Result renders the score for (community, address).
func (s *Score) Result(communityID domain.CommunityID, address domain.Address) *ScoreResult {
	stampScores := s.StampScores
	if stampScores == nil {
		stampScores = map[string]StampScore{}
	}
	return &ScoreResult{
		Address:            address,
		CommunityID:        communityID,
		Score:              s.Score,
		Status:             s.Status,
		Evidence:           s.Evidence,
		StampScores:        stampScores,
		Error:              s.Error,
		ExpirationDate:     s.ExpirationDate,
		LastScoreTimestamp: s.LastScoreTimestamp,
	}
}
