package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/teatrolive/reservation-engine/internal/domain"
)

const (
	metadataCommandType = "command_type"
	metadataGroupKey    = "group_key"
	metadataSubmittedAt = "submitted_at"
)

// NewRedisPublisher builds the Redis stream publisher the gateway and the
// dispatcher share.
func NewRedisPublisher(client redis.UniversalClient, logger *slog.Logger) (message.Publisher, error) {
	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: client,
	}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create redis stream publisher: %w", err)
	}

	return publisher, nil
}

// NewRedisSubscriber builds a Redis stream subscriber joining the command
// consumer group.
func NewRedisSubscriber(client redis.UniversalClient, logger *slog.Logger) (message.Subscriber, error) {
	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: ConsumerGroup,
	}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create redis stream subscriber: %w", err)
	}

	return subscriber, nil
}

// CommandPublisher routes command envelopes onto partition topics so that the
// dispatcher's per-partition handlers preserve per-reservation ordering.
type CommandPublisher struct {
	publisher  message.Publisher
	partitions int
}

var _ domain.CommandPublisher = (*CommandPublisher)(nil)

func NewCommandPublisher(publisher message.Publisher, partitions int) *CommandPublisher {
	if partitions <= 0 {
		partitions = DefaultPartitions
	}

	return &CommandPublisher{
		publisher:  publisher,
		partitions: partitions,
	}
}

// Publish marshals the envelope and appends it to the partition stream chosen
// by groupKey. dedupeKey becomes the message UUID so redeliveries of the same
// submission are traceable end to end.
func (p *CommandPublisher) Publish(ctx context.Context, envelope domain.CommandEnvelope, groupKey, dedupeKey string) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", envelope.Type, err)
	}

	if dedupeKey == "" {
		dedupeKey = watermill.NewUUID()
	}

	msg := message.NewMessage(dedupeKey, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(metadataCommandType, string(envelope.Type))
	msg.Metadata.Set(metadataGroupKey, groupKey)
	msg.Metadata.Set(metadataSubmittedAt, envelope.SubmittedAt.Format("2006-01-02T15:04:05.000Z07:00"))

	topic := PartitionTopic(PartitionFor(groupKey, p.partitions))

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s command to %s: %w", envelope.Type, topic, err)
	}

	return nil
}
