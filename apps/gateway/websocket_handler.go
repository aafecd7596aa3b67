package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/travelchat/pkg/auth"
	"github.com/mahaj/travelchat/pkg/model"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound envelopes, already encoded.
	send chan []byte

	// Authenticated user id.
	ID string
}

// emit queues an envelope for this client only.
func (c *Client) emit(event, session string, payload any) {
	env, err := model.NewEnvelope(event, session, payload)
	if err != nil {
		c.hub.logger.Error("Failed to build envelope", zap.String("event", event), zap.Error(err))
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.hub.logger.Error("Failed to marshal envelope", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("Dropping event for slow client", zap.String("user_id", c.ID), zap.String("event", event))
	}
}

// readPump pumps envelopes from the websocket connection to the hub.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Read failed", zap.String("user_id", c.ID), zap.Error(err))
			}
			break
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.hub.logger.Warn("Ignoring malformed envelope", zap.String("user_id", c.ID))
			continue
		}
		c.hub.handle(ctx, c, env)
	}
}

// writePump pumps envelopes from the hub to the websocket connection. Each
// envelope goes out as its own text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs authenticates the bearer token and upgrades the connection.
func serveWs(ctx context.Context, hub *Hub, issuer *auth.Issuer, w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Try query param as fallback (standard for some WS clients)
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		hub.logger.Info("Unauthorized: no token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := issuer.ValidateToken(auth.BearerToken(tokenString))
	if err != nil {
		hub.logger.Info("Unauthorized: invalid token", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), ID: claims.UserID}
	hub.Register(client)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump(ctx)
}
