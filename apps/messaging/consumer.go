package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mahaj/travelchat/pkg/metrics"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/room"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the part of kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageSaver persists one message under its room.
type MessageSaver interface {
	Save(ctx context.Context, roomID string, msg model.Message) error
}

type Consumer struct {
	reader MessageReader
	store  MessageSaver
	logger *zap.Logger

	retryDelay time.Duration
}

func NewConsumer(brokers []string, topic string, groupID string, store MessageSaver, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, store: store, logger: logger, retryDelay: time.Second}
}

// Consume persists messages until ctx ends. A failed save is retried
// until it succeeds, and an offset is committed only after its message is
// stored or found to be undecodable.
func (c *Consumer) Consume(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Error reading message, retrying", zap.Duration("delay", c.retryDelay), zap.Error(err))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		for !c.persist(ctx, m) {
			if !c.sleep(ctx) {
				return nil
			}
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warn("Failed to commit offset", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// persist reports whether m is done with.
func (c *Consumer) persist(ctx context.Context, m kafka.Message) bool {
	var msg model.Message
	if err := json.Unmarshal(m.Value, &msg); err != nil || msg.ServerID == "" || msg.SenderID == "" || msg.ReceiverID == "" {
		metrics.MessagesPersisted.WithLabelValues("skipped").Inc()
		c.logger.Warn("Skipping malformed message", zap.Int64("offset", m.Offset), zap.Error(err))
		return true
	}

	id := room.Canonicalize(msg.SenderID, msg.ReceiverID)
	if err := c.store.Save(ctx, id.String(), msg); err != nil {
		metrics.MessagesPersisted.WithLabelValues("failed").Inc()
		c.logger.Error("Failed to save message to ScyllaDB", zap.String("id", msg.ServerID), zap.Error(err))
		return false
	}

	metrics.MessagesPersisted.WithLabelValues("saved").Inc()
	c.logger.Debug("Message saved to ScyllaDB", zap.String("id", msg.ServerID), zap.Stringer("room", id))
	return true
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
