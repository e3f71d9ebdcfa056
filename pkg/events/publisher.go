// Package events publishes workflow run events over a watermill transport.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topics.
const (
	TopicExecutionCompleted = "execution.completed"
	TopicExecutionFailed    = "execution.failed"
	TopicNotification       = "workflow.notification"
)

// Metadata keys set on every message.
const (
	MetadataTopic     = "topic"
	MetadataTimestamp = "timestamp"
)

// Publisher sends JSON payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
	Close() error
}

// WatermillPublisher adapts a watermill message.Publisher.
type WatermillPublisher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

// NewWatermillPublisher wraps pub.
func NewWatermillPublisher(pub message.Publisher, logger *slog.Logger) *WatermillPublisher {
	return &WatermillPublisher{publisher: pub, logger: logger}
}

// Publish marshals payload to JSON and publishes it on topic.
func (p *WatermillPublisher) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataTopic, topic)
	msg.Metadata.Set(MetadataTimestamp, time.Now().UTC().Format(time.RFC3339Nano))

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	p.logger.DebugContext(ctx, "Published event", "topic", topic, "message_id", msg.UUID)
	return nil
}

// Close closes the underlying publisher.
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// NewGoChannel returns an in-process pub/sub. The same instance is both publisher and subscriber.
func NewGoChannel(logger *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 256,
			Persistent:          false,
		},
		watermill.NewSlogLogger(logger),
	)
}

// NewKafkaPublisher returns a Kafka-backed watermill publisher.
func NewKafkaPublisher(brokers []string, logger *slog.Logger) (*kafka.Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true

	pub, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig,
			OTELEnabled:           true,
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return pub, nil
}

// New builds a Publisher for the named provider ("gochannel" or "kafka").
func New(provider string, brokers []string, logger *slog.Logger) (Publisher, error) {
	switch provider {
	case "", "gochannel":
		return NewWatermillPublisher(NewGoChannel(logger), logger), nil
	case "kafka":
		pub, err := NewKafkaPublisher(brokers, logger)
		if err != nil {
			return nil, err
		}
		return NewWatermillPublisher(pub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) error { return nil }
func (Discard) Close() error                               { return nil }
