// Package redis implements the shared task queue on Redis lists. Tasks are
// LPUSHed by producers and BRPOPed here, so each list behaves FIFO. The
// high-priority list drains strictly before the normal one.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pricesense/price-crawler/internal/core"
)

// Config names the Redis keys used by the queue.
type Config struct {
	CrawlQueue string
	DeadLetter string
	// ResultQueue is only read for depth stats; the publisher owns writes.
	ResultQueue string
	// PopTimeout bounds a single BRPOP so shutdown stays responsive.
	PopTimeout time.Duration
}

// Queue is a Redis-list backed core.TaskQueue.
type Queue struct {
	client *redis.Client
	cfg    Config
}

// New constructs a Queue over an existing client.
func New(client *redis.Client, cfg Config) *Queue {
	if cfg.CrawlQueue == "" {
		cfg.CrawlQueue = "pricesense:crawl:queue"
	}
	if cfg.DeadLetter == "" {
		cfg.DeadLetter = "pricesense:dead:queue"
	}
	if cfg.ResultQueue == "" {
		cfg.ResultQueue = "pricesense:result:queue"
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 2 * time.Second
	}
	return &Queue{client: client, cfg: cfg}
}

func (q *Queue) key(p core.Priority) string {
	if p == core.PriorityHigh {
		return q.cfg.CrawlQueue + ":high"
	}
	return q.cfg.CrawlQueue + ":normal"
}

// Enqueue pushes a task onto the list matching its priority.
func (q *Queue) Enqueue(ctx context.Context, task core.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key(task.Priority), data).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue blocks until a task arrives or the context ends. BRPOP checks its
// keys in order, which gives the strict high-before-normal policy.
func (q *Queue) Dequeue(ctx context.Context) (core.Task, error) {
	keys := []string{q.key(core.PriorityHigh), q.key(core.PriorityNormal)}
	for {
		if err := ctx.Err(); err != nil {
			return core.Task{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BRPop(ctx, q.cfg.PopTimeout, keys...).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return core.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return core.Task{}, fmt.Errorf("brpop: %w", err)
		}
		// res is [key, payload].
		var task core.Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			return core.Task{}, fmt.Errorf("unmarshal task: %w", err)
		}
		return task, nil
	}
}

// Requeue puts a task back at its original priority.
func (q *Queue) Requeue(ctx context.Context, task core.Task) error {
	return q.Enqueue(ctx, task)
}

// PushDeadLetter appends a terminally failed task to the dead-letter list.
func (q *Queue) PushDeadLetter(ctx context.Context, letter core.DeadLetter) error {
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, q.cfg.DeadLetter, data).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

// Stats returns the current list lengths.
func (q *Queue) Stats(ctx context.Context) (core.QueueStats, error) {
	pipe := q.client.Pipeline()
	high := pipe.LLen(ctx, q.key(core.PriorityHigh))
	normal := pipe.LLen(ctx, q.key(core.PriorityNormal))
	result := pipe.LLen(ctx, q.cfg.ResultQueue)
	dead := pipe.LLen(ctx, q.cfg.DeadLetter)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return core.QueueStats{
		High:       high.Val(),
		Normal:     normal.Val(),
		Result:     result.Val(),
		DeadLetter: dead.Val(),
	}, nil
}
