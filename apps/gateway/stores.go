package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/room"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// redisState keeps room presence in a set per room and unread counters in
// a hash per user keyed by peer.
type redisState struct {
	rdb *redis.Client
}

func newRedisState(addr string) *redisState {
	return &redisState{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func presenceKey(roomID string) string { return "room:" + roomID + ":users" }
func unreadKey(userID string) string   { return "unread:" + userID }

func (s *redisState) Join(ctx context.Context, roomID, userID string) error {
	return s.rdb.SAdd(ctx, presenceKey(roomID), userID).Err()
}

func (s *redisState) Leave(ctx context.Context, roomID, userID string) error {
	return s.rdb.SRem(ctx, presenceKey(roomID), userID).Err()
}

func (s *redisState) MarkUnread(ctx context.Context, userID, peerID string) error {
	return s.rdb.HIncrBy(ctx, unreadKey(userID), peerID, 1).Err()
}

func (s *redisState) MarkRead(ctx context.Context, userID, peerID string) error {
	return s.rdb.HDel(ctx, unreadKey(userID), peerID).Err()
}

func (s *redisState) Close() error { return s.rdb.Close() }

// kafkaPublisher writes accepted messages to the chat topic, keyed by room
// so that one room stays on one partition.
type kafkaPublisher struct {
	w *kafka.Writer
}

func newKafkaPublisher(brokers []string, topic string) *kafkaPublisher {
	return &kafkaPublisher{w: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}}
}

func (p *kafkaPublisher) Publish(ctx context.Context, msg model.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   partitionKey(msg),
		Value: value,
		Time:  time.Now(),
	})
}

func (p *kafkaPublisher) Close() error { return p.w.Close() }

func partitionKey(msg model.Message) []byte {
	return []byte(room.Canonicalize(msg.SenderID, msg.ReceiverID).String())
}

// fanout reads the chat topic with a group of its own, so every gateway
// sees every message, and hands each message to the hub. The group is named
// after the gateway instance so a restart resumes from its committed offset.
type fanout struct {
	reader *kafka.Reader
	hub    *Hub
	logger *zap.Logger
}

func fanoutGroup(gatewayID string) string { return "gateway-fanout-" + gatewayID }

func newFanout(brokers []string, topic, gatewayID string, hub *Hub, logger *zap.Logger) *fanout {
	return &fanout{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     fanoutGroup(gatewayID),
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		}),
		hub:    hub,
		logger: logger,
	}
}

func (f *fanout) Run(ctx context.Context) error {
	defer f.reader.Close()
	for {
		m, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("Fanout read failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			f.logger.Warn("Skipping undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		f.hub.Deliver(msg)
	}
}
