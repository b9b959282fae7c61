// Package memory provides queue implementations for local development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pricesense/price-crawler/internal/core"
)

// Queue is a bounded in-memory queue with strict priority and context-aware
// operations.
type Queue struct {
	mu       sync.Mutex
	high     []core.Task
	normal   []core.Task
	dead     []core.DeadLetter
	capacity int
}

// NewQueue constructs a new queue with the provided per-priority capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{capacity: capacity}
}

// Enqueue pushes a task into the queue for its priority.
func (q *Queue) Enqueue(ctx context.Context, task core.Task) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if task.Priority == core.PriorityHigh {
		if len(q.high) >= q.capacity {
			return fmt.Errorf("high priority queue full")
		}
		q.high = append(q.high, task)
		return nil
	}
	if len(q.normal) >= q.capacity {
		return fmt.Errorf("normal priority queue full")
	}
	q.normal = append(q.normal, task)
	return nil
}

// Dequeue pops the next task, high priority first, blocking until one is
// available or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (core.Task, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if task, ok := q.tryPop(); ok {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return core.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (q *Queue) tryPop() (core.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.high) > 0 {
		task := q.high[0]
		q.high = q.high[1:]
		return task, true
	}
	if len(q.normal) > 0 {
		task := q.normal[0]
		q.normal = q.normal[1:]
		return task, true
	}
	return core.Task{}, false
}

// Requeue puts a task back at its original priority.
func (q *Queue) Requeue(ctx context.Context, task core.Task) error {
	return q.Enqueue(ctx, task)
}

// PushDeadLetter records a terminally failed task.
func (q *Queue) PushDeadLetter(ctx context.Context, letter core.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("push dead letter canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, letter)
	return nil
}

// DeadLetters returns a copy of the recorded dead letters.
func (q *Queue) DeadLetters() []core.DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]core.DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Stats returns current queue depths.
func (q *Queue) Stats(_ context.Context) (core.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return core.QueueStats{
		High:       int64(len(q.high)),
		Normal:     int64(len(q.normal)),
		DeadLetter: int64(len(q.dead)),
	}, nil
}
