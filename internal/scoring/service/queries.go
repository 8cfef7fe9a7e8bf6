package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"scorer/internal/passport/models"
	"scorer/pkg/domain"
	dErrors "scorer/pkg/domain-errors"
	"scorer/pkg/platform/audit"
	"scorer/pkg/platform/sentinel"
)

// GetScore returns the current score of a passport, PROCESSING while a computation runs.
func (s *Service) GetScore(ctx context.Context, communityID domain.CommunityID, address domain.Address) (*models.ScoreResult, error) {
	community, address, err := s.resolve(ctx, communityID, address)
	if err != nil {
		return nil, err
	}
	passport, err := s.findPassport(ctx, community.ID, address)
	if err != nil {
		return nil, err
	}
	score, err := s.passports.GetScore(ctx, passport.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "score not found")
		}
		return nil, storageError(err, "failed to load score")
	}
	return score.Result(community.ID, address), nil
}

// ScoreAt returns the score snapshot that was current at t, reconstructed from the most
// recent SCORE_UPDATE event created at or before t.
func (s *Service) ScoreAt(ctx context.Context, communityID domain.CommunityID, address domain.Address, t time.Time) (*models.ScoreResult, error) {
	if communityID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "community id required")
	}
	address, err := domain.ParseAddress(address.String())
	if err != nil {
		return nil, err
	}

	event, err := s.events.LatestBefore(ctx, audit.ActionScoreUpdate, communityID, address, t)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no score recorded at the requested time")
		}
		return nil, storageError(err, "failed to load score history")
	}

	var snapshot models.ScoreResult
	if err := json.Unmarshal(event.Data, &snapshot); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "corrupt score snapshot")
	}
	return &snapshot, nil
}
