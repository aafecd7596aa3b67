package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mahaj/travelchat/pkg/model"
)

const DefaultHistoryLimit = 200

// MessageStore persists direct messages partitioned by room.
type MessageStore struct {
	s *Session
}

func NewMessageStore(s *Session) *MessageStore {
	return &MessageStore{s: s}
}

// Save stores msg under roomID. msg.ServerID must hold the snowflake id.
func (m *MessageStore) Save(ctx context.Context, roomID string, msg model.Message) error {
	id, err := strconv.ParseInt(msg.ServerID, 10, 64)
	if err != nil {
		return fmt.Errorf("message id %q: %w", msg.ServerID, err)
	}
	query := `INSERT INTO messages (room_id, id, sender_id, receiver_id, content, local_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	return m.s.Query(query, roomID, id, msg.SenderID, msg.ReceiverID, msg.Body, msg.LocalID, msg.CreatedAt).
		WithContext(ctx).Exec()
}

// History returns up to limit most recent messages of roomID, oldest first.
func (m *MessageStore) History(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	iter := m.s.Query(`SELECT id, sender_id, receiver_id, content, local_id, created_at FROM messages WHERE room_id = ? LIMIT ?`, roomID, limit).
		WithContext(ctx).Iter()

	var (
		messages                            []model.Message
		id                                  int64
		senderID, receiverID, content, lid string
		createdAt                           time.Time
	)
	for iter.Scan(&id, &senderID, &receiverID, &content, &lid, &createdAt) {
		messages = append(messages, model.Message{
			ServerID:   strconv.FormatInt(id, 10),
			LocalID:    lid,
			SenderID:   senderID,
			ReceiverID: receiverID,
			Body:       content,
			CreatedAt:  createdAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	// Clustering order is newest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
