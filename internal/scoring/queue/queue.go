// Package queue carries scoring jobs from producers to the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"scorer/pkg/domain"
)

// Kind says what a worker does with a job.
type Kind string

const (
	KindSubmit  Kind = "submit"
	KindRescore Kind = "rescore"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Job is one unit of scoring work for a (community, address) pair.
type Job struct {
	ID          uuid.UUID          `json:"id"`
	Kind        Kind               `json:"kind"`
	CommunityID domain.CommunityID `json:"community_id"`
	Address     domain.Address     `json:"address"`
	Stamps      []json.RawMessage  `json:"stamps,omitempty"`
	Attempt     int                `json:"attempt"`
	EnqueuedAt  time.Time          `json:"enqueued_at"`
}

// NewSubmitJob schedules scoring of a submitted stamp set.
func NewSubmitJob(communityID domain.CommunityID, address domain.Address, stamps []json.RawMessage, now time.Time) Job {
	return Job{ID: uuid.New(), Kind: KindSubmit, CommunityID: communityID, Address: address, Stamps: stamps, EnqueuedAt: now}
}

// NewRescoreJob schedules recomputation from stored stamps.
func NewRescoreJob(communityID domain.CommunityID, address domain.Address, now time.Time) Job {
	return Job{ID: uuid.New(), Kind: KindRescore, CommunityID: communityID, Address: address, EnqueuedAt: now}
}

// Retry returns a copy of j for its next attempt.
func (j Job) Retry(now time.Time) Job {
	j.Attempt++
	j.EnqueuedAt = now
	return j
}

// Queue is a FIFO of jobs shared by producers and workers.
type Queue interface {
	Enqueue(ctx context.Context, jobs ...Job) error
	// Dequeue blocks until a job is available, ctx ends, or the queue is closed.
	Dequeue(ctx context.Context) (Job, error)
}
