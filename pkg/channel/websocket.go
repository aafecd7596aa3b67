package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/logging"
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

	// Maximum message size allowed from peer. History results can be large.
	maxMessageSize = 1 << 20

	sendBuffer    = 256
	inboundBuffer = 64
)

// WebSocketDialer connects to the gateway's /ws endpoint.
type WebSocketDialer struct {
	URL    string
	Dialer *websocket.Dialer
	Logger *zap.Logger
}

func (d *WebSocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: %w", d.URL, chaterr.ErrAuthRequired)
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &chaterr.NetworkError{Op: "dial " + d.URL, Status: status, Err: err}
	}

	c := newWSConn(ws, logging.OrNop(d.Logger))
	go c.writePump()
	go c.readPump()
	return c, nil
}

// wsConn pumps envelopes between a websocket and Go channels. Only
// writePump writes to the socket.
type wsConn struct {
	ws      *websocket.Conn
	send    chan model.Envelope
	inbound chan model.Envelope
	closing chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

func newWSConn(ws *websocket.Conn, logger *zap.Logger) *wsConn {
	return &wsConn{
		ws:      ws,
		send:    make(chan model.Envelope, sendBuffer),
		inbound: make(chan model.Envelope, inboundBuffer),
		closing: make(chan struct{}),
		logger:  logger,
	}
}

func (c *wsConn) Send(env model.Envelope) error {
	select {
	case <-c.closing:
		return chaterr.ErrClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.closing:
		return chaterr.ErrClosed
	}
}

func (c *wsConn) Inbound() <-chan model.Envelope {
	return c.inbound
}

func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.closing) })
	return nil
}

// readPump pumps envelopes from the websocket connection to Inbound.
func (c *wsConn) readPump() {
	defer func() {
		close(c.inbound)
		c.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var env model.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Chat connection read failed", zap.Error(err))
			}
			return
		}
		select {
		case c.inbound <- env:
		case <-c.closing:
			return
		}
	}
}

// writePump pumps queued envelopes to the websocket connection. On Close
// it flushes what is already queued, so a final leave signal still goes out.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case env := <-c.send:
			if err := c.write(env); err != nil {
				c.logger.Warn("Chat connection write failed", zap.String("event", env.Event), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closing:
			for n := len(c.send); n > 0; n-- {
				if err := c.write(<-c.send); err != nil {
					return
				}
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsConn) write(env model.Envelope) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(env)
}
