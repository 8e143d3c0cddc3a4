// Package queue bounds the number of concurrent remote calls per operation kind.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/rs/zerolog"
)

// Priorities used by callers; higher runs first
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// Stats is a point-in-time view of a queue
type Stats struct {
	Name          string `json:"name"`
	Running       int    `json:"running"`
	Pending       int    `json:"pending"`
	MaxConcurrent int    `json:"maxConcurrent"`
	MaxPending    int    `json:"maxPending"`
}

// Queue runs at most MaxConcurrent tasks at once and holds at most MaxPending waiting tasks
type Queue struct {
	name   string
	limits config.QueueLimits
	log    zerolog.Logger

	mu      sync.Mutex
	running int
	pending taskHeap
	seq     uint64
}

// New creates a queue
func New(name string, limits config.QueueLimits, log zerolog.Logger) *Queue {
	if limits.MaxConcurrent < 1 {
		limits.MaxConcurrent = 1
	}
	if limits.MaxPending < 0 {
		limits.MaxPending = 0
	}
	return &Queue{
		name:   name,
		limits: limits,
		log:    log.With().Str("component", "queue").Str("queue", name).Logger(),
	}
}

// Stats returns the current load
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:          q.name,
		Running:       q.running,
		Pending:       q.pending.Len(),
		MaxConcurrent: q.limits.MaxConcurrent,
		MaxPending:    q.limits.MaxPending,
	}
}

// submit starts run now if a slot is free, otherwise parks it by priority
func (q *Queue) submit(priority int, run func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running < q.limits.MaxConcurrent {
		q.running++
		go q.exec(run)
		return nil
	}
	if q.pending.Len() >= q.limits.MaxPending {
		return &apperrors.Error{
			Kind:    apperrors.KindQueueFull,
			Status:  http.StatusTooManyRequests,
			Message: fmt.Sprintf("The %s queue is full. Please try again shortly.", q.name),
		}
	}
	q.seq++
	heap.Push(&q.pending, &task{priority: priority, seq: q.seq, run: run})
	return nil
}

func (q *Queue) exec(run func()) {
	for run != nil {
		run()

		q.mu.Lock()
		if q.pending.Len() > 0 {
			run = heap.Pop(&q.pending).(*task).run
		} else {
			q.running--
			run = nil
		}
		q.mu.Unlock()
	}
}

// Do enqueues fn and waits for its result
func (q *Queue) Do(ctx context.Context, priority int, fn func(ctx context.Context) error) error {
	_, err := Run(ctx, q, priority, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run enqueues fn on q and waits for its result.
// A failing or panicking task only affects its own caller.
func Run[T any](ctx context.Context, q *Queue, priority int, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	err := q.submit(priority, func() {
		defer func() {
			if r := recover(); r != nil {
				q.log.Error().
					Interface("panic", r).
					Msg("Queued task panicked - recovered")
				done <- result{err: fmt.Errorf("queued task panicked: %v", r)}
			}
		}()
		// the caller may have given up while the task was parked
		if err := ctx.Err(); err != nil {
			done <- result{err: err}
			return
		}
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type task struct {
	priority int
	seq      uint64
	run      func()
}

// taskHeap orders by priority, then by insertion
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
