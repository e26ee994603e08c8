package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/auditlens/auditlens/pkg/config"
)

// Event is one record to publish. Key selects the partition and Value is
// encoded as JSON.
type Event struct {
	Key   string
	Value any
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes JSON events to a single topic.
type Producer struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newProducer(w, topic)
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Topic() string {
	return p.topic
}

// Publish writes a single event synchronously.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch writes events in one call. Nothing is written if any value
// fails to encode.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	messages, err := encodeMessages(events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("failed to publish",
			"count", len(messages),
			"error", err,
		)
		return fmt.Errorf("publishing %d messages to %s: %w", len(messages), p.topic, err)
	}
	p.logger.Debug("published", "count", len(messages))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func encodeMessages(events []Event) ([]kafka.Message, error) {
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding event %q: %w", event.Key, err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(event.Key),
			Value: value,
		})
	}
	return messages, nil
}
