package service

import (
	"context"
	"log/slog"
	"time"

	"scorer/internal/passport/models"
	"scorer/internal/scoring/queue"
	"scorer/pkg/domain"
	"scorer/pkg/workerpool"
)

// Rescorer recomputes one passport's score.
type Rescorer interface {
	Rescore(ctx context.Context, communityID domain.CommunityID, address domain.Address) (*models.ScoreResult, error)
}

// InlineRescheduler rescores affected passports before returning, at most fanOut at a time.
// Rescoring never deduplicates, so it cannot trigger further rescoring.
type InlineRescheduler struct {
	rescorer Rescorer
	fanOut   int
	logger   *slog.Logger
}

func NewInlineRescheduler(rescorer Rescorer, fanOut int, logger *slog.Logger) *InlineRescheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineRescheduler{rescorer: rescorer, fanOut: fanOut, logger: logger}
}

// Reschedule logs individual failures and only returns an error when ctx ends.
func (r *InlineRescheduler) Reschedule(ctx context.Context, affected []models.AffectedPassport) error {
	return workerpool.Process(ctx, r.fanOut, affected, func(ctx context.Context, a models.AffectedPassport) error {
		if _, err := r.rescorer.Rescore(ctx, a.CommunityID, a.Address); err != nil {
			r.logger.ErrorContext(ctx, "inline rescore failed",
				"community_id", a.CommunityID,
				"address", a.Address,
				"error", err,
			)
		}
		return nil
	}, nil)
}

// QueueRescheduler enqueues one rescore job per affected passport.
type QueueRescheduler struct {
	queue queue.Queue
	now   func() time.Time
}

func NewQueueRescheduler(q queue.Queue) *QueueRescheduler {
	return &QueueRescheduler{queue: q, now: time.Now}
}

func (r *QueueRescheduler) Reschedule(ctx context.Context, affected []models.AffectedPassport) error {
	now := r.now()
	jobs := make([]queue.Job, 0, len(affected))
	for _, a := range affected {
		jobs = append(jobs, queue.NewRescoreJob(a.CommunityID, a.Address, now))
	}
	return r.queue.Enqueue(ctx, jobs...)
}
