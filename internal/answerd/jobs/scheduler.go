// Package jobs dispatches fire-and-forget follow-up jobs. Payloads are
// pushed onto per-job Redis lists for external workers; the push
// itself runs on a local worker pool so the answer path never blocks
// on Redis.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
	goredis "github.com/redis/go-redis/v9"
)

const (
	queueKeyPrefix = "answerd:jobs:"
	pushTimeout    = 5 * time.Second
)

// Job is the envelope pushed onto the queue.
type Job struct {
	Name       string `json:"name"`
	Payload    any    `json:"payload"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// RedisClient is the subset of the Redis API the scheduler uses,
// satisfied by *goredis.Client.
type RedisClient interface {
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
}

// Scheduler enqueues jobs onto Redis lists through a bounded local
// worker pool.
type Scheduler struct {
	redis RedisClient
	pool  *ants.Pool
}

// NewScheduler creates a scheduler with the given pool size.
func NewScheduler(redis RedisClient, poolSize int) (*Scheduler, error) {
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create job pool: %w", err)
	}
	return &Scheduler{redis: redis, pool: pool}, nil
}

// Enqueue pushes one job. The push happens asynchronously; an error is
// returned only when the job cannot be submitted to the local pool.
func (s *Scheduler) Enqueue(ctx context.Context, name string, payload any) error {
	job := &Job{
		Name:       name,
		Payload:    payload,
		EnqueuedAt: time.Now().UnixMilli(),
	}

	data, err := sonic.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", name, err)
	}

	key := queueKeyPrefix + name
	err = s.pool.Submit(func() {
		pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()

		if err := s.redis.LPush(pushCtx, key, data).Err(); err != nil {
			logger.Warnw("failed to push job", "job", name, "key", key, "error", err.Error())
			return
		}
		logger.Debugw("job enqueued", "job", name, "key", key)
	})
	if err != nil {
		return fmt.Errorf("job pool rejected %s: %w", name, err)
	}
	return nil
}

// Close releases the worker pool.
func (s *Scheduler) Close() {
	s.pool.Release()
}
