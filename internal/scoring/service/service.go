// Package service runs the scoring pipeline for a (community, address) pair: validation,
// deduplication, stamp persistence and scoring, with every non-systemic failure recorded as
// an ERROR score.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	cmodels "scorer/internal/community/models"
	"scorer/internal/credential/validator"
	"scorer/internal/dedup"
	"scorer/internal/hashindex"
	"scorer/internal/passport/models"
	"scorer/internal/scoring/metrics"
	"scorer/pkg/domain"
	"scorer/pkg/platform/audit"
	txcontext "scorer/pkg/platform/tx"
)

// ErrNoPassportData is recorded on the score when a submission carries no stamps.
var ErrNoPassportData = errors.New("no passport data found for address")

const defaultValidationWorkers = 8

type CommunityStore interface {
	FindByID(ctx context.Context, id domain.CommunityID) (*cmodels.Community, error)
}

type PassportStore interface {
	dedup.PassportStore
	GetOrCreatePassport(ctx context.Context, communityID domain.CommunityID, address domain.Address, now time.Time) (*models.Passport, error)
	FindPassport(ctx context.Context, communityID domain.CommunityID, address domain.Address) (*models.Passport, error)
	DeletePassport(ctx context.Context, id domain.PassportID) error
	ListStamps(ctx context.Context, passportID domain.PassportID) ([]*models.Stamp, error)
	UpsertStamp(ctx context.Context, stamp *models.Stamp) (bool, error)
}

type Deduplicator interface {
	Deduplicate(ctx context.Context, community *cmodels.Community, passport *models.Passport, credentials []*models.Credential) (*dedup.Result, error)
}

type EventStore interface {
	Append(ctx context.Context, event audit.Event) error
	LatestBefore(ctx context.Context, action audit.Action, communityID domain.CommunityID, address domain.Address, t time.Time) (*audit.Event, error)
}

// Rescheduler arranges for passports that lost stamps to be rescored.
type Rescheduler interface {
	Reschedule(ctx context.Context, affected []models.AffectedPassport) error
}

// Service orchestrates scoring.
type Service struct {
	communities CommunityStore
	passports   PassportStore
	index       hashindex.Index
	dedup       Deduplicator
	validator   validator.Validator
	events      EventStore
	tx          txcontext.Runner

	rescheduler       Rescheduler
	rescoreFanOut     int
	validationWorkers int

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRescheduler replaces inline rescoring of affected passports, typically with a queue.
func WithRescheduler(r Rescheduler) Option {
	return func(s *Service) {
		s.rescheduler = r
	}
}

// WithRescoreFanOut bounds concurrent inline rescoring.
func WithRescoreFanOut(n int) Option {
	return func(s *Service) {
		s.rescoreFanOut = n
	}
}

// WithValidationWorkers bounds concurrent credential validation per submission.
func WithValidationWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.validationWorkers = n
		}
	}
}

// Dependencies groups the collaborators a Service cannot run without.
type Dependencies struct {
	Communities CommunityStore
	Passports   PassportStore
	Index       hashindex.Index
	Dedup       Deduplicator
	Validator   validator.Validator
	Events      EventStore
	Tx          txcontext.Runner
}

// New constructs a Service. Without WithRescheduler affected passports are rescored inline.
func New(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		communities:       deps.Communities,
		passports:         deps.Passports,
		index:             deps.Index,
		dedup:             deps.Dedup,
		validator:         deps.Validator,
		events:            deps.Events,
		tx:                deps.Tx,
		rescoreFanOut:     1,
		validationWorkers: defaultValidationWorkers,
		logger:            slog.Default(),
		tracer:            otel.Tracer("scorer/internal/scoring/service"),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rescheduler == nil {
		s.rescheduler = NewInlineRescheduler(s, s.rescoreFanOut, s.logger)
	}
	return s
}
