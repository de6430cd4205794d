// Package memory is an in-process queue for single-binary deployments and
// tests. It keeps the same submit/consume split as the broker transport but
// delivers through per-priority channels instead of topics.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// Handler processes one dequeued job task.
type Handler interface {
	Handle(ctx context.Context, payload domain.JobTaskPayload) error
}

// Queue implements domain.Queue over buffered channels, one per priority.
type Queue struct {
	high   chan domain.JobTaskPayload
	normal chan domain.JobTaskPayload
	low    chan domain.JobTaskPayload

	wg sync.WaitGroup
}

// New constructs a Queue with the given per-tier buffer size.
func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{
		high:   make(chan domain.JobTaskPayload, buffer),
		normal: make(chan domain.JobTaskPayload, buffer),
		low:    make(chan domain.JobTaskPayload, buffer),
	}
}

// Enqueue places the payload on its priority channel without blocking the
// caller past a full buffer.
func (q *Queue) Enqueue(ctx context.Context, payload domain.JobTaskPayload, priority domain.Priority) error {
	ch := q.channelFor(priority)
	select {
	case ch <- payload:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("op=queue.enqueue: %w", ctx.Err())
	}
}

// Start runs workers goroutines that drain the channels until ctx is
// cancelled. Higher tiers are always drained first.
func (q *Queue) Start(ctx context.Context, handler Handler, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.worker(ctx, handler)
		}()
	}
	slog.Info("memory queue workers started", slog.Int("workers", workers))
}

// Wait blocks until all workers exit.
func (q *Queue) Wait() { q.wg.Wait() }

func (q *Queue) worker(ctx context.Context, handler Handler) {
	for {
		// Prefer high, then normal, before blocking on all tiers.
		select {
		case p := <-q.high:
			q.handle(ctx, handler, p)
			continue
		default:
		}
		select {
		case p := <-q.high:
			q.handle(ctx, handler, p)
			continue
		case p := <-q.normal:
			q.handle(ctx, handler, p)
			continue
		default:
		}
		select {
		case p := <-q.high:
			q.handle(ctx, handler, p)
		case p := <-q.normal:
			q.handle(ctx, handler, p)
		case p := <-q.low:
			q.handle(ctx, handler, p)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) handle(ctx context.Context, handler Handler, p domain.JobTaskPayload) {
	if err := handler.Handle(ctx, p); err != nil {
		slog.Error("job handling failed",
			slog.String("job_id", p.JobID),
			slog.String("kind", string(p.Kind)),
			slog.Any("error", err))
	}
}

func (q *Queue) channelFor(p domain.Priority) chan domain.JobTaskPayload {
	switch p {
	case domain.PriorityHigh:
		return q.high
	case domain.PriorityLow:
		return q.low
	default:
		return q.normal
	}
}
