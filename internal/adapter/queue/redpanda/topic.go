package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/lexatlas/lexatlas/internal/domain"
)

// Per-priority topics. The producer routes by job priority and the consumer
// subscribes to all three, so urgent work never queues behind bulk batches.
const (
	TopicHigh   = "jobs.high"
	TopicNormal = "jobs.normal"
	TopicLow    = "jobs.low"
)

// AllTopics lists every job topic in consumption order.
var AllTopics = []string{TopicHigh, TopicNormal, TopicLow}

// topicFor maps a priority to its topic. Unknown priorities fall back to the
// normal tier.
func topicFor(p domain.Priority) string {
	switch p {
	case domain.PriorityHigh:
		return TopicHigh
	case domain.PriorityLow:
		return TopicLow
	default:
		return TopicNormal
	}
}

// createTopicIfNotExists issues a CreateTopics request and tolerates the
// topic already being present.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	req := kmsg.NewCreateTopicsRequest()
	t := kmsg.NewCreateTopicsRequestTopic()
	t.Topic = topic
	t.NumPartitions = partitions
	t.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, t)

	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, rt := range resp.Topics {
		if rt.ErrorCode != 0 {
			// 36 = TOPIC_ALREADY_EXISTS
			if rt.ErrorCode == 36 {
				slog.Debug("topic already exists", slog.String("topic", rt.Topic))
				continue
			}
			msg := ""
			if rt.ErrorMessage != nil {
				msg = *rt.ErrorMessage
			}
			return fmt.Errorf("create topic %s: code=%d %s", rt.Topic, rt.ErrorCode, msg)
		}
	}
	return nil
}

// ensureTopics creates every job topic, logging rather than failing when a
// broker races us to creation.
func ensureTopics(ctx context.Context, client *kgo.Client, partitions int32, replicationFactor int16) {
	for _, topic := range AllTopics {
		if err := createTopicIfNotExists(ctx, client, topic, partitions, replicationFactor); err != nil {
			slog.Warn("topic bootstrap failed, it may already exist",
				slog.String("topic", topic),
				slog.Any("error", err))
		}
	}
}
