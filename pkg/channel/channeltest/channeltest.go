// Package channeltest provides an in-memory Dialer and Conn for tests.
package channeltest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/mahaj/travelchat/pkg/channel"
	"github.com/mahaj/travelchat/pkg/model"
)

var ErrDropped = errors.New("connection dropped")

// Dialer hands out Conns and keeps one journal of every envelope sent on
// any of them, in order.
type Dialer struct {
	// Err, when set, is returned by Dial instead of a connection.
	Err error

	mu      sync.Mutex
	tokens  []string
	conns   []*Conn
	journal []model.Envelope
}

func (d *Dialer) Dial(ctx context.Context, token string) (channel.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.Err != nil {
		return nil, d.Err
	}
	c := &Conn{dialer: d, inbound: make(chan model.Envelope, 64)}
	d.conns = append(d.conns, c)
	return c, nil
}

// Calls returns how many times Dial was invoked.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

// Conn returns the i-th dialed connection.
func (d *Dialer) Conn(i int) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// Journal returns every envelope sent so far across all connections.
func (d *Dialer) Journal() []model.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Envelope(nil), d.journal...)
}

// Conn is an in-memory connection driven by the test.
type Conn struct {
	dialer  *Dialer
	mu      sync.Mutex
	sent    []model.Envelope
	inbound chan model.Envelope
	ended   bool
	closed  bool
}

func (c *Conn) Send(env model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return ErrDropped
	}
	c.sent = append(c.sent, env)
	c.dialer.mu.Lock()
	c.dialer.journal = append(c.dialer.journal, env)
	c.dialer.mu.Unlock()
	return nil
}

func (c *Conn) Inbound() <-chan model.Envelope {
	return c.inbound
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.end()
	return nil
}

func (c *Conn) end() {
	if !c.ended {
		c.ended = true
		close(c.inbound)
	}
}

// Drop simulates the server side going away.
func (c *Conn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.end()
}

// Closed reports whether the client closed the connection.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns the envelopes sent on this connection.
func (c *Conn) Sent() []model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Envelope(nil), c.sent...)
}

// Events returns the names of the envelopes sent on this connection.
func (c *Conn) Events() []string {
	return Names(c.Sent())
}

// Tag returns the session tag of the first envelope sent.
func (c *Conn) Tag() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[0].Session
}

// Push delivers an inbound event. Events pushed after the connection
// ended are dropped.
func (c *Conn) Push(event, session string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.inbound <- model.Envelope{Event: event, Session: session, Data: data}
}

// Names maps envelopes to their event names.
func Names(envs []model.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}
