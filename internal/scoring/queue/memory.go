package queue

import (
	"context"
	"sync"
)

// Memory is a bounded in-process queue. Enqueue blocks while the buffer is full.
type Memory struct {
	jobs   chan Job
	done   chan struct{}
	closed sync.Once
}

func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{jobs: make(chan Job, capacity), done: make(chan struct{})}
}

func (q *Memory) Enqueue(ctx context.Context, jobs ...Job) error {
	for _, job := range jobs {
		select {
		case <-q.done:
			return ErrClosed
		default:
		}
		select {
		case q.jobs <- job:
		case <-q.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (q *Memory) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	default:
	}
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Len reports the number of buffered jobs.
func (q *Memory) Len() int {
	return len(q.jobs)
}

// Close stops accepting jobs. Buffered jobs are still handed out until Dequeue finds the
// buffer empty.
func (q *Memory) Close() {
	q.closed.Do(func() { close(q.done) })
}
