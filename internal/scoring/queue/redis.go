package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBlockTimeout = 2 * time.Second

// Redis is a list-backed queue: producers LPUSH, workers BRPOP, so the oldest job is served
// first. Jobs survive process restarts; a job popped by a worker that then crashes is lost.
type Redis struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

type RedisOption func(*Redis)

// WithBlockTimeout bounds each BRPOP so Dequeue notices context cancellation.
func WithBlockTimeout(d time.Duration) RedisOption {
	return func(q *Redis) {
		if d > 0 {
			q.blockTimeout = d
		}
	}
}

func NewRedis(client *redis.Client, key string, opts ...RedisOption) *Redis {
	q := &Redis{client: client, key: key, blockTimeout: defaultBlockTimeout}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Redis) Enqueue(ctx context.Context, jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	values := make([]any, 0, len(jobs))
	for _, job := range jobs {
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", job.ID, err)
		}
		values = append(values, payload)
	}
	if err := q.client.LPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("enqueue %d jobs: %w", len(jobs), err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.client.BRPop(ctx, q.blockTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Job{}, ctxErr
			}
			if errors.Is(err, redis.ErrClosed) {
				return Job{}, ErrClosed
			}
			return Job{}, fmt.Errorf("dequeue: %w", err)
		}
		// res is [key, value]
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

// Len reports the number of waiting jobs.
func (q *Redis) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
