package events

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single Kafka topic keyed by tenant and aggregate.
type KafkaPublisher struct {
	Writer MessageWriter
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{Writer: w}
}

// Publish writes all events in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msgs = append(msgs, Message(ev))
	}
	return p.Writer.WriteMessages(ctx, msgs...)
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}

// Message converts an event to its Kafka representation.
func Message(ev Event) kafka.Message {
	return kafka.Message{
		Key:   []byte(strings.Join([]string{ev.TenantID, ev.Key}, ":")),
		Value: ev.Payload,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Topic)},
			{Key: "tenant_id", Value: []byte(ev.TenantID)},
		},
	}
}

// LogPublisher logs events instead of delivering them. Used when no brokers are configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, ev := range events {
		p.Logger.Info().Int64("event_id", ev.ID).Str("topic", ev.Topic).Str("tenant_id", ev.TenantID).Str("key", ev.Key).Msg("event published")
	}
	return nil
}
