package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/travelchat/pkg/db"
	"github.com/mahaj/travelchat/pkg/metrics"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/room"
	"github.com/mahaj/travelchat/pkg/snowflake"
	"go.uber.org/zap"
)

const historyTimeout = 5 * time.Second

// HistoryStore reads the transcript of a room.
type HistoryStore interface {
	History(ctx context.Context, roomID string, limit int) ([]model.Message, error)
}

// Publisher hands accepted messages to the bus. Every gateway consumes the
// bus and fans messages out to its own connections.
type Publisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// RoomState tracks presence and unread counters.
type RoomState interface {
	Join(ctx context.Context, roomID, userID string) error
	Leave(ctx context.Context, roomID, userID string) error
	MarkUnread(ctx context.Context, userID, peerID string) error
	MarkRead(ctx context.Context, userID, peerID string) error
}

type Hub struct {
	rooms      map[room.ID]map[*Client]string // room -> client -> session tag
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	mu         sync.RWMutex

	history   HistoryStore
	publisher Publisher
	state     RoomState
	snowflake *snowflake.Node
	logger    *zap.Logger
}

func NewHub(history HistoryStore, publisher Publisher, state RoomState, node *snowflake.Node, logger *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[room.ID]map[*Client]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		history:    history,
		publisher:  publisher,
		state:      state,
		snowflake:  node,
		logger:     logger,
	}
}

// Run tracks connections until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.quit)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			metrics.ConnectedClients.Inc()
			h.logger.Info("Client registered", zap.String("user_id", client.ID))

		case client := <-h.unregister:
			metrics.ConnectedClients.Dec()
			h.mu.Lock()
			var left []room.ID
			for id, clients := range h.rooms {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					left = append(left, id)
					if len(clients) == 0 {
						delete(h.rooms, id)
					}
				}
			}
			h.mu.Unlock()
			close(client.send)
			for _, id := range left {
				h.removePresence(id, client.ID)
			}
			h.logger.Info("Client unregistered", zap.String("user_id", client.ID))
		}
	}
}

// Register and Unregister hand connections to Run; they give up once Run
// has returned.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// joinRoom records that c joined id under the given session tag.
func (h *Hub) joinRoom(c *Client, id room.ID, session string) {
	h.mu.Lock()
	if h.rooms[id] == nil {
		h.rooms[id] = make(map[*Client]string)
	}
	h.rooms[id][c] = session
	h.mu.Unlock()

	if err := h.state.Join(context.Background(), id.String(), c.ID); err != nil {
		h.logger.Warn("Failed to set presence", zap.String("user_id", c.ID), zap.Error(err))
	}
	h.logger.Info("Client joined room", zap.String("user_id", c.ID), zap.Stringer("room", id))
}

func (h *Hub) leaveRoom(c *Client, id room.ID) {
	h.mu.Lock()
	clients, ok := h.rooms[id]
	if ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, id)
		}
	}
	h.mu.Unlock()

	h.removePresence(id, c.ID)
	h.logger.Info("Client left room", zap.String("user_id", c.ID), zap.Stringer("room", id))
}

func (h *Hub) removePresence(id room.ID, userID string) {
	if err := h.state.Leave(context.Background(), id.String(), userID); err != nil {
		h.logger.Warn("Failed to delete presence", zap.String("user_id", userID), zap.Error(err))
	}
}

// Members returns how many connections are joined to id.
func (h *Hub) Members(id room.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[id])
}

// roomFor validates a signal sent by client and returns its room. A user
// may only speak for themselves.
func (h *Hub) roomFor(c *Client, senderID, receiverID string) (room.ID, bool) {
	if senderID != c.ID || receiverID == "" || receiverID == senderID || strings.Contains(receiverID, ":") {
		h.logger.Warn("Rejected room signal", zap.String("user_id", c.ID), zap.String("sender_id", senderID), zap.String("receiver_id", receiverID))
		return room.ID{}, false
	}
	return room.Canonicalize(senderID, receiverID), true
}

// handle dispatches one envelope read from c.
func (h *Hub) handle(ctx context.Context, c *Client, env model.Envelope) {
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case model.EventJoinRoom, model.EventLeaveRoom, model.EventMarkAsRead, model.EventChatHistory:
		var sig model.RoomSignal
		if err := env.Decode(&sig); err != nil {
			h.logger.Warn("Malformed room signal", zap.String("event", env.Event), zap.Error(err))
			return
		}
		id, ok := h.roomFor(c, sig.SenderID, sig.ReceiverID)
		if !ok {
			if env.Event == model.EventChatHistory {
				c.emit(model.EventHistoryError, env.Session, model.HistoryError{Reason: "forbidden"})
			}
			return
		}

		switch env.Event {
		case model.EventJoinRoom:
			h.joinRoom(c, id, env.Session)
		case model.EventLeaveRoom:
			h.leaveRoom(c, id)
		case model.EventMarkAsRead:
			if err := h.state.MarkRead(ctx, sig.SenderID, sig.ReceiverID); err != nil {
				h.logger.Warn("Failed to reset unread count", zap.String("user_id", c.ID), zap.Error(err))
			}
		case model.EventChatHistory:
			h.sendHistory(ctx, c, id, env.Session)
		}

	case model.EventSendMessage:
		var p model.SendMessage
		if err := env.Decode(&p); err != nil {
			h.logger.Warn("Malformed message", zap.Error(err))
			return
		}
		if _, ok := h.roomFor(c, p.SenderID, p.ReceiverID); !ok || strings.TrimSpace(p.Message) == "" {
			return
		}
		msg := model.Message{
			ServerID:   h.snowflake.GenerateString(),
			LocalID:    p.LocalID,
			SenderID:   p.SenderID,
			ReceiverID: p.ReceiverID,
			Body:       p.Message,
			CreatedAt:  time.Now().UTC(),
		}
		if err := h.state.MarkUnread(ctx, p.ReceiverID, p.SenderID); err != nil {
			h.logger.Warn("Failed to increment unread count", zap.String("user_id", p.ReceiverID), zap.Error(err))
		}
		if err := h.publisher.Publish(ctx, msg); err != nil {
			h.logger.Error("Failed to publish message", zap.String("id", msg.ServerID), zap.Error(err))
		}

	default:
		h.logger.Debug("Ignoring unknown event", zap.String("event", env.Event))
	}
}

func (h *Hub) sendHistory(ctx context.Context, c *Client, id room.ID, session string) {
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	messages, err := h.history.History(ctx, id.String(), db.DefaultHistoryLimit)
	if err != nil {
		metrics.HistoryErrors.Inc()
		h.logger.Error("Failed to load history", zap.Stringer("room", id), zap.Error(err))
		c.emit(model.EventHistoryError, session, model.HistoryError{Reason: "history unavailable"})
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	c.emit(model.EventHistoryResult, session, messages)
}

// Deliver fans msg out to every connection joined to its room, tagged with
// each connection's own session.
func (h *Hub) Deliver(msg model.Message) {
	id := room.Canonicalize(msg.SenderID, msg.ReceiverID)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client, session := range h.rooms[id] {
		env, err := model.NewEnvelope(model.EventReceive, session, msg)
		if err != nil {
			h.logger.Error("Failed to marshal message", zap.String("user_id", client.ID), zap.Error(err))
			continue
		}
		data, err := json.Marshal(env)
		if err != nil {
			h.logger.Error("Failed to marshal envelope", zap.String("user_id", client.ID), zap.Error(err))
			continue
		}
		select {
		case client.send <- data:
			metrics.MessagesFannedOut.Inc()
		default:
			h.logger.Warn("Dropping message for slow client", zap.String("user_id", client.ID))
		}
	}
}
