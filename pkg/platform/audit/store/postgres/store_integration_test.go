//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"scorer/pkg/domain"
	audit "scorer/pkg/platform/audit"
	"scorer/pkg/platform/audit/outbox"
	"scorer/pkg/platform/audit/store/postgres"
	"scorer/pkg/platform/sentinel"
	txcontext "scorer/pkg/platform/tx"
	"scorer/pkg/testutil/containers"
)

const addr = domain.Address("0x00000000000000000000000000000000000000aa")

type StoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	outbox   *outbox.PostgresStore
	runner   *txcontext.PostgresRunner
	ctx      context.Context
	now      time.Time
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.outbox = outbox.NewPostgresStore(s.postgres.DB)
	s.runner = txcontext.NewPostgresRunner(s.postgres.DB, 0)
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "outbox", "score_events"))
}

func (s *StoreSuite) appendScore(community domain.CommunityID, score string, at time.Time) {
	event, err := audit.NewEvent(audit.ActionScoreUpdate, community, addr, map[string]string{"score": score}, at)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Append(s.ctx, event))
}

func (s *StoreSuite) TestLatestBefore() {
	s.appendScore(1, "1", s.now.Add(-2*time.Hour))
	s.appendScore(1, "2", s.now.Add(-time.Hour))
	s.appendScore(1, "3", s.now)
	s.appendScore(2, "9", s.now.Add(-90*time.Minute))

	event, err := s.store.LatestBefore(s.ctx, audit.ActionScoreUpdate, 1, addr, s.now.Add(-30*time.Minute))
	s.Require().NoError(err)
	s.JSONEq(`{"score":"2"}`, string(event.Data))

	event, err = s.store.LatestBefore(s.ctx, audit.ActionScoreUpdate, 1, addr, s.now)
	s.Require().NoError(err)
	s.JSONEq(`{"score":"3"}`, string(event.Data), "created_at equal to t is included")

	_, err = s.store.LatestBefore(s.ctx, audit.ActionScoreUpdate, 1, addr, s.now.Add(-3*time.Hour))
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.LatestBefore(s.ctx, audit.ActionDataRemoval, 1, addr, s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)

	events, err := s.store.List(s.ctx, 1, addr)
	s.Require().NoError(err)
	s.Len(events, 3)
}

func (s *StoreSuite) TestLatestBeforePrefersLaterAppendOnTimestampTie() {
	for _, score := range []string{"1", "2", "3", "4", "5"} {
		s.appendScore(1, score, s.now)
	}

	event, err := s.store.LatestBefore(s.ctx, audit.ActionScoreUpdate, 1, addr, s.now)
	s.Require().NoError(err)
	s.JSONEq(`{"score":"5"}`, string(event.Data))

	events, err := s.store.List(s.ctx, 1, addr)
	s.Require().NoError(err)
	s.Require().Len(events, 5)
	s.JSONEq(`{"score":"1"}`, string(events[0].Data))
	s.JSONEq(`{"score":"5"}`, string(events[4].Data))
}

func (s *StoreSuite) TestAppendWritesOutboxEntry() {
	s.appendScore(7, "1", s.now)

	entries, err := s.outbox.FetchUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("passport", entries[0].AggregateType)
	s.Equal("7:"+addr.String(), entries[0].AggregateID)
	s.Equal(string(audit.ActionScoreUpdate), entries[0].EventType)

	var payload map[string]any
	s.Require().NoError(json.Unmarshal(entries[0].Payload, &payload))
	s.Equal("SCORE_UPDATE", payload["action"])
	s.EqualValues(7, payload["communityId"])

	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	s.Require().NoError(s.outbox.MarkPublished(s.ctx, ids, s.now))
	entries, err = s.outbox.FetchUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *StoreSuite) TestRolledBackAppendLeavesNoTrace() {
	err := s.runner.RunInTx(s.ctx, func(ctx context.Context) error {
		event, err := audit.NewEvent(audit.ActionDataRemoval, 1, addr, map[string]int{"passport_id": 1}, s.now)
		if err != nil {
			return err
		}
		if err := s.store.Append(ctx, event); err != nil {
			return err
		}
		return sentinel.ErrUnavailable
	})
	s.ErrorIs(err, sentinel.ErrUnavailable)

	events, err := s.store.List(s.ctx, 1, addr)
	s.Require().NoError(err)
	s.Empty(events)
	entries, err := s.outbox.FetchUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(entries)
}
