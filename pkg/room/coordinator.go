// Package room names two-party conversations and manages the single chat
// session a UI context may have open.
package room

import (
	"context"
	"errors"
	"sync"

	"github.com/mahaj/travelchat/pkg/channel"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/logging"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/transcript"
	"go.uber.org/zap"
)

var ErrSelfChat = errors.New("cannot open a chat with yourself")

// ChatSession is one open conversation with a peer.
type ChatSession struct {
	Room ID
	Self model.UserIdentity
	Peer model.UserIdentity

	channel *channel.Channel
}

func (s *ChatSession) Channel() *channel.Channel           { return s.channel }
func (s *ChatSession) Transcript() *transcript.Transcript { return s.channel.Transcript() }
func (s *ChatSession) State() channel.State               { return s.channel.State() }

func (s *ChatSession) Send(body string) (model.Message, error) {
	return s.channel.Send(body)
}

type Options struct {
	Gate   *gate.Gate
	Dialer channel.Dialer

	// Follows backs the mutual-follow gate policy. It may be nil when the
	// gate does not require it.
	Follows gate.FollowLookup

	// OnEvent receives channel events tagged with their session. It must
	// not call back into the Coordinator.
	OnEvent func(*ChatSession, channel.Event)

	Logger *zap.Logger
}

// Coordinator keeps at most one ChatSession open. Opening a chat with a
// different peer closes the previous one first.
type Coordinator struct {
	gate    *gate.Gate
	dialer  channel.Dialer
	follows gate.FollowLookup
	onEvent func(*ChatSession, channel.Event)
	logger  *zap.Logger

	mu      sync.Mutex
	current *ChatSession
}

func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		gate:    opts.Gate,
		dialer:  opts.Dialer,
		follows: opts.Follows,
		onEvent: opts.OnEvent,
		logger:  logging.OrNop(opts.Logger),
	}
}

// Open returns a joined session with peer. The access gate is checked
// before anything else, so an unauthenticated caller never dials.
func (c *Coordinator) Open(ctx context.Context, peer model.UserIdentity) (*ChatSession, error) {
	self, err := c.gate.Require()
	if err != nil {
		return nil, err
	}
	if peer.ID == self.ID {
		return nil, ErrSelfChat
	}
	if err := c.gate.CanMessage(peer.ID, c.follows); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.current; cur != nil {
		if cur.Peer.ID == peer.ID && cur.State() == channel.Joined {
			return cur, nil
		}
		c.closeLocked(cur)
	}

	s := &ChatSession{Room: Canonicalize(self.ID, peer.ID), Self: self, Peer: peer}
	s.channel = channel.New(channel.Options{
		Self:   self,
		Peer:   peer,
		Gate:   c.gate,
		Dialer: c.dialer,
		OnEvent: func(ev channel.Event) {
			if c.onEvent != nil {
				c.onEvent(s, ev)
			}
		},
		Logger: c.logger.With(zap.Stringer("room", s.Room)),
	})
	c.current = s

	if err := s.channel.Connect(ctx); err != nil {
		c.closeLocked(s)
		return nil, err
	}
	return s, nil
}

// Current returns the open session, or nil.
func (c *Coordinator) Current() *ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close leaves and tears down s. Closing a session twice, or one that
// already lost its connection, is harmless.
func (c *Coordinator) Close(s *ChatSession) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(s)
}

// CloseCurrent closes whatever session is open.
func (c *Coordinator) CloseCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.closeLocked(c.current)
	}
}

func (c *Coordinator) closeLocked(s *ChatSession) {
	s.channel.Close()
	if c.current == s {
		c.current = nil
	}
	c.logger.Debug("Chat session closed", zap.Stringer("room", s.Room))
}
