package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_Transitions(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	two := decimal.NewFromInt(2)
	s := &Score{
		PassportID:     1,
		Score:          &two,
		Status:         ScoreStatusDone,
		StampScores:    map[string]StampScore{"Google": {Score: decimal.NewFromInt(1)}},
		ExpirationDate: &now,
	}

	s.MarkProcessing()
	assert.Equal(t, ScoreStatusProcessing, s.Status)
	assert.Nil(t, s.Score)
	assert.Nil(t, s.StampScores)

	s.MarkError("boom", now)
	assert.Equal(t, ScoreStatusError, s.Status)
	assert.Equal(t, "boom", s.Error)
	assert.Nil(t, s.ExpirationDate)
	require.NotNil(t, s.LastScoreTimestamp)
	assert.Equal(t, now, *s.LastScoreTimestamp)
}

func TestScoreResult_JSON(t *testing.T) {
	two := decimal.NewFromInt(2)
	s := &Score{
		Score:  &two,
		Status: ScoreStatusDone,
		Evidence: &Evidence{
			Type:      EvidenceTypeBinary,
			RawScore:  two,
			Threshold: two,
			Success:   true,
		},
	}

	body, err := json.Marshal(s.Result(4, "0x00000000000000000000000000000000000000aa"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "2", decoded["score"])
	assert.Equal(t, "DONE", decoded["status"])
	assert.Equal(t, map[string]any{}, decoded["stamp_scores"])
	evidence := decoded["evidence"].(map[string]any)
	assert.Equal(t, "2", evidence["rawScore"])
	assert.Equal(t, "binary", evidence["type"])
	assert.Equal(t, true, evidence["success"])

	var back ScoreResult
	require.NoError(t, json.Unmarshal(body, &back))
	require.NotNil(t, back.Score)
	assert.True(t, back.Score.Equal(two))
}
