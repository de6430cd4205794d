// Package redpanda provides the Redpanda/Kafka transport for job dispatch.
//
// Jobs are published keyed by job id to one of three priority topics and
// consumed by a worker group with a bounded in-process pool, so throughput
// scales horizontally by adding worker processes.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// Producer wraps a Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
}

// NewProducer constructs a Producer and bootstraps the job topics.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}
	ensureTopics(context.Background(), client, 4, 1)
	return &Producer{client: client}, nil
}

// Enqueue publishes the payload to the topic matching its priority. The
// record is keyed by job id so redeliveries of the same job land on one
// partition.
func (p *Producer) Enqueue(ctx context.Context, payload domain.JobTaskPayload, priority domain.Priority) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=queue.enqueue: marshal: %w", err)
	}
	topic := topicFor(priority)
	rec := &kgo.Record{Topic: topic, Key: []byte(payload.JobID), Value: b}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=queue.enqueue: produce: %w", err)
	}
	slog.Info("job enqueued",
		slog.String("job_id", payload.JobID),
		slog.String("kind", string(payload.Kind)),
		slog.String("topic", topic))
	return nil
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
