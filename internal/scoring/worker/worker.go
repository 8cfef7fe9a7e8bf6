// Package worker drains the scoring queue with a fixed number of goroutines.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"scorer/internal/passport/models"
	"scorer/internal/scoring/metrics"
	"scorer/internal/scoring/queue"
	"scorer/pkg/domain"
	dErrors "scorer/pkg/domain-errors"
)

// Scorer is the orchestrator surface the workers drive.
type Scorer interface {
	Submit(ctx context.Context, communityID domain.CommunityID, address domain.Address, stamps []json.RawMessage) (*models.ScoreResult, error)
	Rescore(ctx context.Context, communityID domain.CommunityID, address domain.Address) (*models.ScoreResult, error)
	MarkFailed(ctx context.Context, communityID domain.CommunityID, address domain.Address, reason string) error
}

// Pool consumes jobs until its context ends or the queue closes. A job failing with a
// retryable error is re-enqueued until it has been tried maxAttempts times, then its score is
// marked failed.
type Pool struct {
	queue       queue.Queue
	scorer      Scorer
	workers     int
	maxAttempts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func New(q queue.Queue, scorer Scorer, opts ...Option) *Pool {
	p := &Pool{
		queue:       q,
		scorer:      scorer,
		workers:     1,
		maxAttempts: 3,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is cancelled or the queue is closed. Either is a clean shutdown.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		i := i
		g.Go(func() error {
			return p.loop(ctx, i)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
		return nil
	}
	return err
}

func (p *Pool) loop(ctx context.Context, id int) error {
	logger := p.logger.With("worker", id)
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				return err
			}
			logger.ErrorContext(ctx, "dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		p.Handle(ctx, job)
	}
}

// Handle processes a single job.
func (p *Pool) Handle(ctx context.Context, job queue.Job) {
	err := p.dispatch(ctx, job)
	if err == nil {
		p.metrics.IncrementJob(string(job.Kind), "ok")
		return
	}

	attrs := []any{
		"job_id", job.ID,
		"kind", job.Kind,
		"community_id", job.CommunityID,
		"address", job.Address,
		"attempt", job.Attempt + 1,
		"error", err,
	}

	if !retryable(err) {
		p.metrics.IncrementJob(string(job.Kind), "dropped")
		p.logger.WarnContext(ctx, "dropping job", attrs...)
		return
	}

	if job.Attempt+1 < p.maxAttempts {
		qErr := p.queue.Enqueue(ctx, job.Retry(p.now()))
		if qErr == nil {
			p.metrics.IncrementJob(string(job.Kind), "retried")
			p.logger.WarnContext(ctx, "job failed, retrying", attrs...)
			return
		}
		attrs = append(attrs, "enqueue_error", qErr)
	}

	p.metrics.IncrementJob(string(job.Kind), "failed")
	p.logger.ErrorContext(ctx, "job failed permanently", attrs...)
	reason := fmt.Sprintf("scoring failed after %d attempts: %v", job.Attempt+1, err)
	if mErr := p.scorer.MarkFailed(ctx, job.CommunityID, job.Address, reason); mErr != nil {
		p.logger.ErrorContext(ctx, "failed to record job failure", append(attrs, "mark_error", mErr)...)
	}
}

func (p *Pool) dispatch(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindSubmit:
		_, err := p.scorer.Submit(ctx, job.CommunityID, job.Address, job.Stamps)
		return err
	case queue.KindRescore:
		_, err := p.scorer.Rescore(ctx, job.CommunityID, job.Address)
		return err
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "unknown job kind "+string(job.Kind))
	}
}

// retryable is false for caller errors, which fail the same way on every attempt.
func retryable(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidInput, dErrors.CodeNotFound, dErrors.CodeValidation:
		return false
	}
	return true
}
