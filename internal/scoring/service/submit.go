package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	cmodels "scorer/internal/community/models"
	"scorer/internal/credential/validator"
	"scorer/internal/dedup"
	"scorer/internal/passport/models"
	"scorer/internal/scoring"
	"scorer/pkg/domain"
	dErrors "scorer/pkg/domain-errors"
	"scorer/pkg/platform/audit"
	"scorer/pkg/platform/sentinel"
	pstrings "scorer/pkg/platform/strings"
	txcontext "scorer/pkg/platform/tx"
)

const (
	opSubmit  = "submit"
	opRescore = "rescore"
)

// Submit scores stamps for address in a community. It returns an error only for unknown
// communities, malformed addresses and systemic storage failures; any other failure is
// recorded on the returned score with status ERROR.
func (s *Service) Submit(ctx context.Context, communityID domain.CommunityID, address domain.Address, stamps []json.RawMessage) (*models.ScoreResult, error) {
	ctx, span := s.tracer.Start(ctx, "scoring.Submit", trace.WithAttributes(
		attribute.Int64("community_id", int64(communityID)),
		attribute.String("address", address.String()),
		attribute.Int("stamps", len(stamps)),
	))
	defer span.End()

	community, address, err := s.resolve(ctx, communityID, address)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ctx = txcontext.WithShardKey(ctx, communityID.String())

	// RECEIVED
	passport, err := s.receive(ctx, community.ID, address)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(stamps) == 0 {
		return s.fail(ctx, community, passport, ErrNoPassportData, opSubmit)
	}

	// VALIDATING
	var credentials []*models.Credential
	_ = s.step(ctx, "validate", func(ctx context.Context) error {
		credentials = s.validate(ctx, address, stamps)
		return nil
	})

	// DEDUPLICATING, then stamp persistence in the same transaction
	var result *dedup.Result
	err = s.step(ctx, "deduplicate", func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			r, err := s.dedup.Deduplicate(ctx, community, passport, credentials)
			if err != nil {
				return err
			}
			if err := s.persistStamps(ctx, community, passport, r.Stamps); err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		return s.fail(ctx, community, passport, err, opSubmit)
	}

	// SCORING, DONE
	score, err := s.score(ctx, community, passport, result.Clashing)
	if err != nil {
		return s.fail(ctx, community, passport, err, opSubmit)
	}
	s.metrics.IncrementOutcome(score.Status.String(), opSubmit)
	s.logger.InfoContext(ctx, "passport scored",
		"community_id", community.ID,
		"address", address,
		"kept", len(result.Stamps),
		"clashing", len(result.Clashing),
		"affected", len(result.Affected),
	)

	if len(result.Affected) > 0 {
		s.metrics.AddRescheduled(len(result.Affected))
		if err := s.rescheduler.Reschedule(ctx, result.Affected); err != nil {
			// Affected passports keep RequiresCalculation and a PROCESSING score.
			s.logger.ErrorContext(ctx, "failed to reschedule affected passports",
				"community_id", community.ID,
				"address", address,
				"affected", len(result.Affected),
				"error", err,
			)
		}
	}

	return score.Result(community.ID, address), nil
}

// Rescore recomputes a passport's score from its stored stamps without deduplicating again.
func (s *Service) Rescore(ctx context.Context, communityID domain.CommunityID, address domain.Address) (*models.ScoreResult, error) {
	ctx, span := s.tracer.Start(ctx, "scoring.Rescore", trace.WithAttributes(
		attribute.Int64("community_id", int64(communityID)),
		attribute.String("address", address.String()),
	))
	defer span.End()

	community, address, err := s.resolve(ctx, communityID, address)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ctx = txcontext.WithShardKey(ctx, communityID.String())

	passport, err := s.findPassport(ctx, community.ID, address)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	score, err := s.score(ctx, community, passport, nil)
	if err != nil {
		return s.fail(ctx, community, passport, err, opRescore)
	}
	s.metrics.IncrementOutcome(score.Status.String(), opRescore)
	return score.Result(community.ID, address), nil
}

// MarkFailed records reason as an ERROR score. Workers use it once a job has exhausted its
// attempts so pollers do not wait on PROCESSING forever.
func (s *Service) MarkFailed(ctx context.Context, communityID domain.CommunityID, address domain.Address, reason string) error {
	community, address, err := s.resolve(ctx, communityID, address)
	if err != nil {
		return err
	}
	ctx = txcontext.WithShardKey(ctx, communityID.String())
	passport, err := s.findPassport(ctx, community.ID, address)
	if err != nil {
		return err
	}
	_, err = s.recordError(ctx, community, passport, reason)
	return err
}

func (s *Service) resolve(ctx context.Context, communityID domain.CommunityID, address domain.Address) (*cmodels.Community, domain.Address, error) {
	if communityID.IsNil() {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "community id required")
	}
	canonical, err := domain.ParseAddress(address.String())
	if err != nil {
		return nil, "", err
	}
	community, err := s.communities.FindByID(ctx, communityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, "", dErrors.New(dErrors.CodeNotFound, "community not found")
		}
		return nil, "", storageError(err, "failed to load community")
	}
	return community, canonical, nil
}

func (s *Service) findPassport(ctx context.Context, communityID domain.CommunityID, address domain.Address) (*models.Passport, error) {
	passport, err := s.passports.FindPassport(ctx, communityID, address)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "passport not found")
		}
		return nil, storageError(err, "failed to load passport")
	}
	return passport, nil
}

// receive loads or creates the passport and exposes a PROCESSING score to pollers.
func (s *Service) receive(ctx context.Context, communityID domain.CommunityID, address domain.Address) (*models.Passport, error) {
	var passport *models.Passport
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.passports.GetOrCreatePassport(ctx, communityID, address, s.now())
		if err != nil {
			return err
		}
		score, err := s.passports.GetScore(ctx, p.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			score = &models.Score{PassportID: p.ID}
		} else if err != nil {
			return err
		}
		score.MarkProcessing()
		if err := s.passports.SaveScore(ctx, score); err != nil {
			return err
		}
		passport = p
		return nil
	})
	if err != nil {
		return nil, storageError(err, "failed to register passport")
	}
	return passport, nil
}

// validate parses and checks every submitted stamp concurrently. Invalid stamps are dropped;
// the survivors keep their submission order.
func (s *Service) validate(ctx context.Context, address domain.Address, stamps []json.RawMessage) []*models.Credential {
	did := validator.DIDForAddress(address)
	checked := make([]*models.Credential, len(stamps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.validationWorkers)
	for i, raw := range stamps {
		i, raw := i, raw
		g.Go(func() error {
			cred, err := models.ParseCredential(raw)
			if err != nil {
				s.drop(ctx, address, "malformed", "", err.Error())
				return nil
			}
			if problems := s.validator.Validate(gctx, did, cred); len(problems) > 0 {
				s.drop(ctx, address, "invalid", cred.Subject.Provider, problems...)
				return nil
			}
			if cred.ExpirationDate == nil {
				s.drop(ctx, address, "no_expiration", cred.Subject.Provider)
				return nil
			}
			checked[i] = cred
			return nil
		})
	}
	_ = g.Wait()

	valid := make([]*models.Credential, 0, len(checked))
	for _, cred := range checked {
		if cred != nil {
			valid = append(valid, cred)
		}
	}
	return valid
}

func (s *Service) drop(ctx context.Context, address domain.Address, reason, provider string, problems ...string) {
	s.metrics.IncrementDropped(reason)
	s.logger.InfoContext(ctx, "stamp dropped",
		"address", address,
		"provider", provider,
		"reason", reason,
		"problems", problems,
	)
}

// persistStamps upserts the kept credentials and deletes stored stamps that were not
// resubmitted. In LIFO communities the claim keys of deleted stamps are released unless a kept
// credential still uses them.
func (s *Service) persistStamps(ctx context.Context, community *cmodels.Community, passport *models.Passport, kept []*models.Credential) error {
	now := s.now()
	existing, err := s.passports.ListStamps(ctx, passport.ID)
	if err != nil {
		return err
	}

	keptHashes := make(map[string]struct{}, len(kept))
	var keptKeys []string
	for _, cred := range kept {
		stamp := models.NewStamp(passport.ID, cred, now)
		if _, err := s.passports.UpsertStamp(ctx, stamp); err != nil {
			return err
		}
		keptHashes[stamp.Hash] = struct{}{}
		keptKeys = append(keptKeys, cred.ClaimKeys()...)
	}
	stillClaimed := pstrings.Set(keptKeys...)

	var stale []string
	var releasable []string
	for _, st := range existing {
		if _, ok := keptHashes[st.Hash]; ok {
			continue
		}
		stale = append(stale, st.Hash)
		for _, key := range st.ClaimKeys() {
			if _, ok := stillClaimed[key]; !ok {
				releasable = append(releasable, key)
			}
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.passports.DeleteStamps(ctx, passport.ID, stale); err != nil {
		return err
	}
	if community.Rule != domain.DedupLIFO {
		return nil
	}
	for _, key := range pstrings.DedupeAndTrim(releasable) {
		if err := s.index.Release(ctx, community.ID, key, passport.Address); err != nil {
			return err
		}
	}
	return nil
}

// score computes and stores the passport's score from its stored stamps and records the
// snapshot.
func (s *Service) score(ctx context.Context, community *cmodels.Community, passport *models.Passport, clashing map[string]*models.Credential) (*models.Score, error) {
	var score *models.Score
	err := s.step(ctx, "score", func(ctx context.Context) error {
		scorer, err := scoring.New(community.Scorer)
		if err != nil {
			return err
		}
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			stamps, err := s.passports.ListStamps(ctx, passport.ID)
			if err != nil {
				return err
			}
			now := s.now()
			result := scorer.Compute(scoring.Input{Stamps: stamps, Clashing: clashing, Now: now})

			sc := &models.Score{PassportID: passport.ID}
			result.Apply(sc, now)
			if err := s.save(ctx, community.ID, passport, sc); err != nil {
				return err
			}
			if passport.RequiresCalculation {
				if err := s.passports.SetRequiresCalculation(ctx, passport.ID, false); err != nil {
					return err
				}
			}
			score = sc
			return nil
		})
	})
	return score, err
}

// save persists score and appends its SCORE_UPDATE snapshot.
func (s *Service) save(ctx context.Context, communityID domain.CommunityID, passport *models.Passport, score *models.Score) error {
	if err := s.passports.SaveScore(ctx, score); err != nil {
		return err
	}
	snapshot := score.Result(communityID, passport.Address)
	event, err := audit.NewEvent(audit.ActionScoreUpdate, communityID, passport.Address, snapshot, s.now())
	if err != nil {
		return err
	}
	return s.events.Append(ctx, event)
}

// fail is the orchestrator boundary: systemic errors propagate, anything else becomes a
// persisted ERROR score.
func (s *Service) fail(ctx context.Context, community *cmodels.Community, passport *models.Passport, cause error, op string) (*models.ScoreResult, error) {
	if isSystemic(cause) {
		s.metrics.IncrementOutcome("retry", op)
		s.logger.WarnContext(ctx, "scoring interrupted by infrastructure failure",
			"community_id", community.ID,
			"address", passport.Address,
			"operation", op,
			"error", cause,
		)
		return nil, storageError(cause, "scoring interrupted")
	}

	level := s.logger.ErrorContext
	if errors.Is(cause, ErrNoPassportData) {
		level = s.logger.InfoContext
	}
	level(ctx, "scoring failed",
		"community_id", community.ID,
		"address", passport.Address,
		"operation", op,
		"error", cause,
	)

	score, err := s.recordError(ctx, community, passport, cause.Error())
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementOutcome(score.Status.String(), op)
	return score.Result(community.ID, passport.Address), nil
}

func (s *Service) recordError(ctx context.Context, community *cmodels.Community, passport *models.Passport, msg string) (*models.Score, error) {
	score := &models.Score{PassportID: passport.ID}
	score.MarkError(msg, s.now())
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.save(ctx, community.ID, passport, score)
	})
	if err != nil {
		return nil, storageError(err, "failed to record scoring error")
	}
	return score, nil
}

// step runs fn in a child span and records its latency.
func (s *Service) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "scoring."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveStep(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
