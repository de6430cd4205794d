package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// Handler processes one dequeued job task.
type Handler interface {
	Handle(ctx context.Context, payload domain.JobTaskPayload) error
}

// Consumer reads the priority topics as a consumer group and fans records out
// to a bounded worker pool.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	groupID string

	maxWorkers int
	sem        chan struct{}
	wg         sync.WaitGroup
}

// NewConsumer constructs a Consumer subscribed to every job topic.
func NewConsumer(brokers []string, groupID string, handler Handler, maxWorkers int) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing consumer group id")
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(
			kotel.TracerProvider(otel.GetTracerProvider()),
		)),
	)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(AllTopics...),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(5*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}
	ensureTopics(context.Background(), client, 4, 1)

	return &Consumer{
		client:     client,
		handler:    handler,
		groupID:    groupID,
		maxWorkers: maxWorkers,
		sem:        make(chan struct{}, maxWorkers),
	}, nil
}

// Start polls until the context is cancelled. Each record is handled on its
// own goroutine, bounded by the worker semaphore; at-most-once is preserved
// by marking the record before handing it to the handler.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("consumer started",
		slog.String("group_id", c.groupID),
		slog.Int("max_workers", c.maxWorkers))

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			break
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Any("error", fe.Err))
			}
			continue
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			c.client.MarkCommitRecords(rec)
			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				c.handleRecord(ctx, rec)
			}()
		})
	}

	c.wg.Wait()
	c.client.Close()
	slog.Info("consumer stopped", slog.String("group_id", c.groupID))
	return ctx.Err()
}

func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record) {
	var payload domain.JobTaskPayload
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		slog.Error("dropping malformed record",
			slog.String("topic", rec.Topic),
			slog.Int64("offset", rec.Offset),
			slog.Any("error", err))
		return
	}
	if err := c.handler.Handle(ctx, payload); err != nil {
		// The handler already persisted the failure; nothing to redeliver.
		slog.Error("job handling failed",
			slog.String("job_id", payload.JobID),
			slog.String("kind", string(payload.Kind)),
			slog.Any("error", err))
	}
}
