package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	cmodels "scorer/internal/community/models"
	communitystore "scorer/internal/community/store"
	"scorer/internal/credential/validator"
	validatormocks "scorer/internal/credential/validator/mocks"
	"scorer/internal/dedup"
	"scorer/internal/hashindex"
	indexmemory "scorer/internal/hashindex/store/memory"
	"scorer/internal/passport/models"
	passportmemory "scorer/internal/passport/store/memory"
	"scorer/internal/scoring/metrics"
	"scorer/internal/scoring/queue"
	"scorer/pkg/domain"
	dErrors "scorer/pkg/domain-errors"
	"scorer/pkg/platform/audit"
	auditmemory "scorer/pkg/platform/audit/store/memory"
	"scorer/pkg/platform/retry"
	"scorer/pkg/platform/sentinel"
	txcontext "scorer/pkg/platform/tx"
	testhelpers "scorer/pkg/testutil"
)

const (
	addrA = domain.Address("0x00000000000000000000000000000000000000aa")
	addrB = domain.Address("0x00000000000000000000000000000000000000bb")
	addrC = domain.Address("0x00000000000000000000000000000000000000cc")
)

type ServiceSuite struct {
	suite.Suite
	ctx         context.Context
	now         time.Time
	communities *communitystore.InMemory
	passports   *passportmemory.Store
	index       *indexmemory.InMemory
	events      *auditmemory.InMemoryStore
	metrics     *metrics.Metrics
	lifo        *cmodels.Community
	fifo        *cmodels.Community
	binary      *cmodels.Community
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.communities = communitystore.NewInMemory()
	s.passports = passportmemory.New()
	s.index = indexmemory.New()
	s.events = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())

	weights := map[string]decimal.Decimal{
		"Google": decimal.NewFromInt(1),
		"Ens":    decimal.NewFromInt(1),
		"Github": decimal.RequireFromString("0.5"),
	}
	s.lifo = s.community("lifo", domain.DedupLIFO, cmodels.ScorerConfig{Type: cmodels.ScorerWeighted, Weights: weights})
	s.fifo = s.community("fifo", domain.DedupFIFO, cmodels.ScorerConfig{Type: cmodels.ScorerWeighted, Weights: weights})
	s.binary = s.community("binary", domain.DedupLIFO, cmodels.ScorerConfig{Type: cmodels.ScorerBinary, Weights: weights, Threshold: decimal.NewFromInt(2)})
}

func (s *ServiceSuite) community(name string, rule domain.DedupRule, scorer cmodels.ScorerConfig) *cmodels.Community {
	c, err := cmodels.NewCommunity(name, rule, scorer, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.communities.Create(s.ctx, c))
	return c
}

func (s *ServiceSuite) clock() time.Time {
	return s.now
}

func (s *ServiceSuite) service(opts ...Option) *Service {
	engine := dedup.New(s.index, s.passports, s.events,
		dedup.WithClock(s.clock),
		dedup.WithLogger(testhelpers.DiscardLogger()),
		dedup.WithRetryOptions(retry.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })),
	)
	return s.serviceWith(validator.NewBasic(validator.WithClock(s.clock)), engine, opts...)
}

func (s *ServiceSuite) serviceWith(v validator.Validator, d Deduplicator, opts ...Option) *Service {
	return New(Dependencies{
		Communities: s.communities,
		Passports:   s.passports,
		Index:       s.index,
		Dedup:       d,
		Validator:   v,
		Events:      s.events,
		Tx:          txcontext.NewShardedRunner(),
	}, append([]Option{WithClock(s.clock), WithMetrics(s.metrics), WithLogger(testhelpers.DiscardLogger())}, opts...)...)
}

func (s *ServiceSuite) stamp(address domain.Address, provider, hash string, ttl time.Duration) json.RawMessage {
	doc := map[string]any{
		"credentialSubject": map[string]any{
			"id":       validator.DIDForAddress(address),
			"hash":     hash,
			"provider": provider,
		},
		"issuer":         "did:key:issuer",
		"issuanceDate":   s.now.Add(-time.Hour).Format(time.RFC3339),
		"expirationDate": s.now.Add(ttl).Format(time.RFC3339),
	}
	raw, err := json.Marshal(doc)
	s.Require().NoError(err)
	return raw
}

func (s *ServiceSuite) nullifierStamp(address domain.Address, provider string, ttl time.Duration, nullifiers ...string) json.RawMessage {
	doc := map[string]any{
		"credentialSubject": map[string]any{
			"id":         validator.DIDForAddress(address),
			"nullifiers": nullifiers,
			"provider":   provider,
		},
		"issuer":         "did:key:issuer",
		"expirationDate": s.now.Add(ttl).Format(time.RFC3339),
	}
	raw, err := json.Marshal(doc)
	s.Require().NoError(err)
	return raw
}

func (s *ServiceSuite) stamps(raw ...json.RawMessage) []json.RawMessage {
	return raw
}

func (s *ServiceSuite) storedProviders(c *cmodels.Community, address domain.Address) []string {
	p, err := s.passports.FindPassport(s.ctx, c.ID, address)
	s.Require().NoError(err)
	stamps, err := s.passports.ListStamps(s.ctx, p.ID)
	s.Require().NoError(err)
	var out []string
	for _, st := range stamps {
		out = append(out, st.Provider)
	}
	return out
}

func (s *ServiceSuite) TestSubmitScoresWeightedStamps() {
	svc := s.service()

	res, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(
		s.stamp(addrA, "Google", "h-google", 48*time.Hour),
		s.stamp(addrA, "Ens", "h-ens", 24*time.Hour),
	))
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusDone, res.Status)
	s.Require().NotNil(res.Score)
	s.True(res.Score.Equal(decimal.NewFromInt(2)), res.Score.String())
	s.Require().NotNil(res.ExpirationDate)
	s.Equal(s.now.Add(24*time.Hour), *res.ExpirationDate)
	s.Len(res.StampScores, 2)
	s.Empty(res.Error)

	polled, err := svc.GetScore(s.ctx, s.lifo.ID, addrA)
	s.Require().NoError(err)
	s.Equal(res.Score.String(), polled.Score.String())

	s.Len(s.events.ListByAction(audit.ActionScoreUpdate), 1)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Outcomes.WithLabelValues("DONE", "submit")))
}

func (s *ServiceSuite) TestSubmitNormalisesAddress() {
	svc := s.service()
	_, err := svc.Submit(s.ctx, s.lifo.ID, "0x00000000000000000000000000000000000000AA", s.stamps(
		s.stamp(addrA, "Google", "h1", time.Hour),
	))
	s.Require().NoError(err)

	_, err = s.passports.FindPassport(s.ctx, s.lifo.ID, addrA)
	s.NoError(err)
}

func (s *ServiceSuite) TestBinaryScorerEvidence() {
	svc := s.service()
	res, err := svc.Submit(s.ctx, s.binary.ID, addrA, s.stamps(
		s.stamp(addrA, "Google", "h1", time.Hour),
		s.stamp(addrA, "Ens", "h2", time.Hour),
	))
	s.Require().NoError(err)
	s.Require().NotNil(res.Evidence)
	s.True(res.Evidence.Success)
	s.Equal("2", res.Evidence.RawScore.String())
	s.Equal("1", res.Score.String())
}

func (s *ServiceSuite) TestResubmissionIsIdempotent() {
	svc := s.service()
	submission := s.stamps(
		s.stamp(addrA, "Google", "h1", time.Hour),
		s.stamp(addrA, "Ens", "h2", time.Hour),
	)

	first, err := svc.Submit(s.ctx, s.lifo.ID, addrA, submission)
	s.Require().NoError(err)
	second, err := svc.Submit(s.ctx, s.lifo.ID, addrA, submission)
	s.Require().NoError(err)

	s.Equal(first.Score.String(), second.Score.String())
	s.Equal(first.StampScores, second.StampScores)
	s.ElementsMatch([]string{"Google", "Ens"}, s.storedProviders(s.lifo, addrA))
	s.Len(s.index.Links(s.lifo.ID), 2)
}

func (s *ServiceSuite) TestLIFODisplacement() {
	svc := s.service()
	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", time.Hour)))
	s.Require().NoError(err)

	res, err := svc.Submit(s.ctx, s.lifo.ID, addrB, s.stamps(
		s.stamp(addrB, "Google", "h1", time.Hour),
		s.stamp(addrB, "Github", "h2", time.Hour),
	))
	s.Require().NoError(err)
	s.Equal("0.5", res.Score.String())
	s.Require().Contains(res.StampScores, "Google")
	s.True(res.StampScores["Google"].Dedup)
	s.True(res.StampScores["Google"].Score.IsZero())

	s.Equal([]string{"Github"}, s.storedProviders(s.lifo, addrB))
	s.Equal([]string{"Google"}, s.storedProviders(s.lifo, addrA))
	s.Len(s.events.ListByAction(audit.ActionLIFODeduplication), 1)
}

func (s *ServiceSuite) TestMultiNullifierEquivalence() {
	svc := s.service()
	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.nullifierStamp(addrA, "Google", time.Hour, "v1:x", "v2:y")))
	s.Require().NoError(err)

	for _, tc := range []struct {
		address   domain.Address
		nullifier string
	}{{addrB, "v1:x"}, {addrC, "v2:y"}} {
		res, err := svc.Submit(s.ctx, s.lifo.ID, tc.address, s.stamps(s.nullifierStamp(tc.address, "Google", time.Hour, tc.nullifier)))
		s.Require().NoError(err)
		s.True(res.Score.IsZero(), tc.nullifier)
		s.True(res.StampScores["Google"].Dedup, tc.nullifier)
	}
}

func (s *ServiceSuite) TestFIFOTransferRescoresPreviousHolder() {
	svc := s.service()
	_, err := svc.Submit(s.ctx, s.fifo.ID, addrA, s.stamps(
		s.stamp(addrA, "Google", "h1", time.Hour),
		s.stamp(addrA, "Ens", "h2", time.Hour),
	))
	s.Require().NoError(err)

	res, err := svc.Submit(s.ctx, s.fifo.ID, addrB, s.stamps(s.stamp(addrB, "Google", "h1", time.Hour)))
	s.Require().NoError(err)
	s.Equal("1", res.Score.String())

	previous, err := svc.GetScore(s.ctx, s.fifo.ID, addrA)
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusDone, previous.Status)
	s.Equal("1", previous.Score.String())
	s.NotContains(previous.StampScores, "Google")
	s.Equal([]string{"Ens"}, s.storedProviders(s.fifo, addrA))

	p, err := s.passports.FindPassport(s.ctx, s.fifo.ID, addrA)
	s.Require().NoError(err)
	s.False(p.RequiresCalculation)
	s.Len(s.events.ListByAction(audit.ActionFIFODeduplication), 1)
}

func (s *ServiceSuite) TestFIFOTransferQueuesRescore() {
	q := queue.NewMemory(8)
	svc := s.service(WithRescheduler(NewQueueRescheduler(q)))
	_, err := svc.Submit(s.ctx, s.fifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", time.Hour)))
	s.Require().NoError(err)

	_, err = svc.Submit(s.ctx, s.fifo.ID, addrB, s.stamps(s.stamp(addrB, "Google", "h1", time.Hour)))
	s.Require().NoError(err)

	s.Require().Equal(1, q.Len())
	job, err := q.Dequeue(s.ctx)
	s.Require().NoError(err)
	s.Equal(queue.KindRescore, job.Kind)
	s.Equal(addrA, job.Address)

	pending, err := svc.GetScore(s.ctx, s.fifo.ID, addrA)
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusProcessing, pending.Status)
	s.Nil(pending.Score)

	rescored, err := svc.Rescore(s.ctx, job.CommunityID, job.Address)
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusDone, rescored.Status)
	s.True(rescored.Score.IsZero())
}

func (s *ServiceSuite) TestCommunitiesAreIsolated() {
	svc := s.service()
	other := s.community("other", domain.DedupLIFO, s.lifo.Scorer)

	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", time.Hour)))
	s.Require().NoError(err)
	res, err := svc.Submit(s.ctx, other.ID, addrB, s.stamps(s.stamp(addrB, "Google", "h1", time.Hour)))
	s.Require().NoError(err)
	s.Equal("1", res.Score.String())
	s.Empty(s.events.ListByAction(audit.ActionLIFODeduplication))
}

func (s *ServiceSuite) TestEmptySubmissionRecordsNoPassportData() {
	svc := s.service()
	res, err := svc.Submit(s.ctx, s.lifo.ID, addrA, nil)
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusError, res.Status)
	s.Nil(res.Score)
	s.Nil(res.ExpirationDate)
	s.Equal(ErrNoPassportData.Error(), res.Error)
}

func (s *ServiceSuite) TestDuplicateHashInSubmissionRecordsIntegrityError() {
	svc := s.service()
	res, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(
		s.stamp(addrA, "Google", "h1", time.Hour),
		s.stamp(addrA, "Ens", "h1", time.Hour),
	))
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusError, res.Status)
	s.Contains(res.Error, dedup.ErrHashIndexIntegrity.Error())

	stored, err := svc.GetScore(s.ctx, s.lifo.ID, addrA)
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusError, stored.Status)
}

func (s *ServiceSuite) TestInvalidStampsAreDropped() {
	svc := s.service()
	expired := s.stamp(addrA, "Ens", "h2", -time.Minute)
	foreign := s.stamp(addrB, "Github", "h3", time.Hour)

	res, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(
		s.stamp(addrA, "Google", "h1", time.Hour),
		expired,
		foreign,
		json.RawMessage(`not json`),
	))
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusDone, res.Status)
	s.Equal("1", res.Score.String())
	s.Equal([]string{"Google"}, s.storedProviders(s.lifo, addrA))
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.StampsDropped.WithLabelValues("invalid")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.StampsDropped.WithLabelValues("malformed")))
}

func (s *ServiceSuite) TestValidatorIsConsultedPerStamp() {
	ctrl := gomock.NewController(s.T())
	v := validatormocks.NewMockValidator(ctrl)
	engine := dedup.New(s.index, s.passports, s.events, dedup.WithClock(s.clock))
	svc := s.serviceWith(v, engine, WithValidationWorkers(2))

	good := s.stamp(addrA, "Google", "h1", time.Hour)
	bad := s.stamp(addrA, "Ens", "h2", time.Hour)
	did := validator.DIDForAddress(addrA)
	v.EXPECT().Validate(gomock.Any(), did, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, c *models.Credential) []string {
			if c.Subject.Provider == "Ens" {
				return []string{"bad signature"}
			}
			return nil
		}).Times(2)

	res, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(good, bad))
	s.Require().NoError(err)
	s.Equal("1", res.Score.String())
}

func (s *ServiceSuite) TestKeylessStampsAreKeptPerProvider() {
	ctrl := gomock.NewController(s.T())
	v := validatormocks.NewMockValidator(ctrl)
	v.EXPECT().Validate(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	engine := dedup.New(s.index, s.passports, s.events, dedup.WithClock(s.clock))
	svc := s.serviceWith(v, engine)

	submission := s.stamps(
		s.stamp(addrA, "Google", "", time.Hour),
		s.stamp(addrA, "Ens", "", time.Hour),
	)
	res, err := svc.Submit(s.ctx, s.lifo.ID, addrA, submission)
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusDone, res.Status)
	s.Equal("2", res.Score.String())
	s.ElementsMatch([]string{"Google", "Ens"}, s.storedProviders(s.lifo, addrA))
	s.Empty(s.index.Links(s.lifo.ID))

	again, err := svc.Submit(s.ctx, s.lifo.ID, addrA, submission)
	s.Require().NoError(err)
	s.Equal("2", again.Score.String())
	s.Len(s.storedProviders(s.lifo, addrA), 2)
}

func (s *ServiceSuite) TestStaleStampsArePrunedAndReleased() {
	svc := s.service()
	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(
		s.stamp(addrA, "Google", "h1", time.Hour),
		s.stamp(addrA, "Github", "h2", time.Hour),
	))
	s.Require().NoError(err)

	res, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", time.Hour)))
	s.Require().NoError(err)
	s.Equal("1", res.Score.String())
	s.Equal([]string{"Google"}, s.storedProviders(s.lifo, addrA))

	// h2 is free again
	res, err = svc.Submit(s.ctx, s.lifo.ID, addrB, s.stamps(s.stamp(addrB, "Github", "h2", time.Hour)))
	s.Require().NoError(err)
	s.Equal("0.5", res.Score.String())
}

func (s *ServiceSuite) TestExpiredClaimDoesNotBlock() {
	svc := s.service()
	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", time.Hour)))
	s.Require().NoError(err)

	s.now = s.now.Add(2 * time.Hour)
	res, err := svc.Submit(s.ctx, s.lifo.ID, addrB, s.stamps(s.stamp(addrB, "Google", "h1", time.Hour)))
	s.Require().NoError(err)
	s.Equal("1", res.Score.String())
}

func (s *ServiceSuite) TestScoreAtReturnsHistoricalSnapshot() {
	svc := s.service()
	start := s.now
	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", 72*time.Hour)))
	s.Require().NoError(err)

	s.now = start.Add(time.Hour)
	_, err = svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(
		s.stamp(addrA, "Google", "h1", 72*time.Hour),
		s.stamp(addrA, "Ens", "h2", 72*time.Hour),
	))
	s.Require().NoError(err)

	at, err := svc.ScoreAt(s.ctx, s.lifo.ID, addrA, start.Add(30*time.Minute))
	s.Require().NoError(err)
	s.Equal("1", at.Score.String())

	latest, err := svc.ScoreAt(s.ctx, s.lifo.ID, addrA, start.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal("2", latest.Score.String())

	_, err = svc.ScoreAt(s.ctx, s.lifo.ID, addrA, start.Add(-time.Minute))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestRemovePassport() {
	svc := s.service()
	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", time.Hour)))
	s.Require().NoError(err)

	s.Require().NoError(svc.RemovePassport(s.ctx, s.lifo.ID, addrA))

	_, err = svc.GetScore(s.ctx, s.lifo.ID, addrA)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Empty(s.index.Links(s.lifo.ID))
	s.Len(s.events.ListByAction(audit.ActionDataRemoval), 1)

	res, err := svc.Submit(s.ctx, s.lifo.ID, addrB, s.stamps(s.stamp(addrB, "Google", "h1", time.Hour)))
	s.Require().NoError(err)
	s.Equal("1", res.Score.String())

	err = svc.RemovePassport(s.ctx, s.lifo.ID, addrC)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestCallerErrors() {
	svc := s.service()

	_, err := svc.Submit(s.ctx, 999, addrA, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = svc.Submit(s.ctx, s.lifo.ID, "not-an-address", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = svc.Submit(s.ctx, 0, addrA, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = svc.Rescore(s.ctx, s.lifo.ID, addrA)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestSystemicFailurePropagates() {
	svc := s.service()
	svc.passports = &flakyStore{Store: s.passports, listErr: fmt.Errorf("list stamps: %w", sentinel.ErrUnavailable)}

	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", time.Hour)))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	pending, err := s.service().GetScore(s.ctx, s.lifo.ID, addrA)
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusProcessing, pending.Status)
}

func (s *ServiceSuite) TestDeadlockedTransactionIsRetried() {
	svc := s.service()
	svc.passports = &flakyStore{Store: s.passports, listErr: fmt.Errorf("list stamps: %w", &pgconn.PgError{Code: "40P01"})}

	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", time.Hour)))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	pending, err := s.service().GetScore(s.ctx, s.lifo.ID, addrA)
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusProcessing, pending.Status)
}

func (s *ServiceSuite) TestMarkFailed() {
	svc := s.service()
	_, err := svc.Submit(s.ctx, s.lifo.ID, addrA, s.stamps(s.stamp(addrA, "Google", "h1", time.Hour)))
	s.Require().NoError(err)

	s.Require().NoError(svc.MarkFailed(s.ctx, s.lifo.ID, addrA, "gave up"))
	res, err := svc.GetScore(s.ctx, s.lifo.ID, addrA)
	s.Require().NoError(err)
	s.Equal(models.ScoreStatusError, res.Status)
	s.Equal("gave up", res.Error)
}

type flakyStore struct {
	*passportmemory.Store
	listErr error
}

func (f *flakyStore) ListStamps(ctx context.Context, id domain.PassportID) ([]*models.Stamp, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.ListStamps(ctx, id)
}

func (s *ServiceSuite) TestConcurrentSubmissions() {
	svc := s.service()
	competitors := []domain.Address{addrA, addrB, addrC}
	const rounds = 8

	g, ctx := errgroup.WithContext(s.ctx)
	for i := 0; i < rounds; i++ {
		for _, address := range competitors {
			address := address
			g.Go(func() error {
				_, err := svc.Submit(ctx, s.lifo.ID, address, s.stamps(
					s.stamp(address, "Google", "h-shared", time.Hour),
					s.stamp(address, "Github", "h-own-"+address.String(), time.Hour),
				))
				return err
			})
		}
	}
	s.Require().NoError(g.Wait())

	var holders []domain.Address
	for _, address := range competitors {
		providers := s.storedProviders(s.lifo, address)
		s.Contains(providers, "Github")
		if len(providers) == 2 {
			holders = append(holders, address)
		}
		s.LessOrEqual(len(providers), 2, "one stamp row per hash")
	}
	s.Require().Len(holders, 1, "exactly one address keeps the shared stamp")

	var shared []hashindex.Link
	for _, link := range s.index.Links(s.lifo.ID) {
		if link.Key == "h-shared" {
			shared = append(shared, link)
		}
	}
	s.Require().Len(shared, 1)
	s.Equal(holders[0], shared[0].Address)
}
