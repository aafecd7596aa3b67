package main

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mahaj/travelchat/pkg/auth"
	"github.com/mahaj/travelchat/pkg/room"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PresenceReader reads the room presence and unread counters the gateway
// maintains.
type PresenceReader interface {
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
	Unread(ctx context.Context, userID string) (map[string]string, error)
}

type redisPresence struct {
	rdb *redis.Client
}

func newRedisPresence(addr string) *redisPresence {
	return &redisPresence{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (p *redisPresence) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	return p.rdb.SMembers(ctx, "room:"+roomID+":users").Result()
}

func (p *redisPresence) Unread(ctx context.Context, userID string) (map[string]string, error) {
	return p.rdb.HGetAll(ctx, "unread:"+userID).Result()
}

func (p *redisPresence) Close() error { return p.rdb.Close() }

type PresenceHandler struct {
	reader PresenceReader
	logger *zap.Logger
}

func NewPresenceHandler(reader PresenceReader, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{reader: reader, logger: logger}
}

type UnreadCount struct {
	PeerID string `json:"peer_id"`
	Count  int64  `json:"count"`
}

// Unread lists the peers with unread messages for the caller.
func (h *PresenceHandler) Unread(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := chi.URLParam(r, "id")
	if id != claims.UserID {
		writeError(w, http.StatusForbidden, "cannot read another user's unread counts")
		return
	}

	raw, err := h.reader.Unread(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to fetch unread counts", zap.String("user_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch unread counts")
		return
	}

	counts := make([]UnreadCount, 0, len(raw))
	for peer, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		counts = append(counts, UnreadCount{PeerID: peer, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].PeerID < counts[j].PeerID })
	writeJSON(w, http.StatusOK, map[string][]UnreadCount{"unread": counts})
}

// Room lists who is currently joined to the caller's room with peer.
func (h *PresenceHandler) Room(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	peer := chi.URLParam(r, "peer")
	if peer == claims.UserID {
		writeError(w, http.StatusBadRequest, "no room with yourself")
		return
	}

	id := room.Canonicalize(claims.UserID, peer)
	users, err := h.reader.RoomMembers(r.Context(), id.String())
	if err != nil {
		h.logger.Error("Failed to fetch presence", zap.Stringer("room", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch presence")
		return
	}
	sort.Strings(users)
	writeJSON(w, http.StatusOK, map[string]any{"room": id.String(), "online": users})
}
