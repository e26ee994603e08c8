// Package kafka wraps segmentio/kafka-go for publishing and consuming
// JSON-encoded lookup events.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/auditlens/auditlens/pkg/config"
)

// MessageHandler processes one message. A returned error leaves the
// message uncommitted.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic as part of a consumer group.
type Consumer struct {
	reader  messageReader
	handler MessageHandler
	logger  *slog.Logger
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled. Handler failures are logged and
// skipped; the loop only returns on cancellation.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopping")
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
		c.logger.Warn("failed to process message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("failed to commit message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
