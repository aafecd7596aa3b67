// Package channel owns the persistent event connection of one chat
// session: connect, join, history, send, receive, mark-as-read, leave.
//
// A Channel moves Disconnected -> Connecting -> Connected -> Joined and
// ends in Disconnected on Close, on a rejected credential, or when the
// connection drops. A dropped connection is not redialed; the owner opens
// a new session if it wants one.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/logging"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/transcript"
	"go.uber.org/zap"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Joined
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Joined:
		return "joined"
	default:
		return "disconnected"
	}
}

var ErrEmptyMessage = errors.New("message body is empty")

type EventKind int

const (
	StateChanged EventKind = iota
	HistoryLoaded
	HistoryFailed
	MessageAppended
	MessageConfirmed
)

// Event is delivered to Options.OnEvent after the channel's own state has
// been updated.
type Event struct {
	Kind    EventKind
	State   State
	Message model.Message
	Err     error
}

type Options struct {
	Self   model.UserIdentity
	Peer   model.UserIdentity
	Gate   *gate.Gate
	Dialer Dialer

	// Transcript receives history and messages. A fresh one is used if nil.
	Transcript *transcript.Transcript

	// OnEvent is called from the channel's receive goroutine or from the
	// calling goroutine. It must not call Close.
	OnEvent func(Event)

	Logger *zap.Logger
}

type Channel struct {
	self       model.UserIdentity
	peer       model.UserIdentity
	gate       *gate.Gate
	dialer     Dialer
	transcript *transcript.Transcript
	onEvent    func(Event)
	logger     *zap.Logger

	// tag marks every room-scoped request of this channel.
	tag string

	mu            sync.Mutex
	state         State
	conn          Conn
	closed        bool
	historyLoaded bool
	historyErr    error
	done          chan struct{}
}

func New(opts Options) *Channel {
	tr := opts.Transcript
	if tr == nil {
		tr = transcript.New()
	}
	tag := uuid.NewString()
	return &Channel{
		self:       opts.Self,
		peer:       opts.Peer,
		gate:       opts.Gate,
		dialer:     opts.Dialer,
		transcript: tr,
		onEvent:    opts.OnEvent,
		logger: logging.OrNop(opts.Logger).With(
			zap.String("peer_id", opts.Peer.ID),
			zap.String("session", tag),
		),
		tag: tag,
	}
}

func (c *Channel) Tag() string                       { return c.tag }
func (c *Channel) Peer() model.UserIdentity          { return c.peer }
func (c *Channel) Transcript() *transcript.Transcript { return c.transcript }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History reports whether a history result or error has been observed,
// and the error if it was the latter.
func (c *Channel) History() (loaded bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyLoaded, c.historyErr
}

func (c *Channel) notify(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(Event{Kind: StateChanged, State: s})
}

func (c *Channel) signal() model.RoomSignal {
	return model.RoomSignal{SenderID: c.self.ID, ReceiverID: c.peer.ID}
}

// Connect dials the gateway and joins the room. Without a credential it
// fails with ErrAuthRequired and never dials. After the connection is up
// it emits join, mark-as-read and history requests in that order without
// waiting for replies.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return chaterr.ErrClosed
	}
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("connect: channel is %s", c.state)
	}
	c.mu.Unlock()

	token, err := c.gate.Token()
	if err != nil {
		return err
	}

	c.setState(Connecting)

	conn, err := c.dialer.Dial(ctx, token)
	if err != nil {
		if errors.Is(err, chaterr.ErrAuthRequired) {
			c.gate.Revoke()
		}
		c.logger.Warn("Chat connection failed", zap.Error(err))
		c.setState(Disconnected)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return chaterr.ErrClosed
	}
	c.conn = conn
	c.state = Connected
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()
	c.notify(Event{Kind: StateChanged, State: Connected})

	go c.receive(conn, done)

	for _, event := range []string{model.EventJoinRoom, model.EventMarkAsRead, model.EventChatHistory} {
		if err := c.emit(conn, event, c.signal()); err != nil {
			c.logger.Warn("Failed to emit room signal", zap.String("event", event), zap.Error(err))
			return &chaterr.NetworkError{Op: event, Err: err}
		}
	}

	c.mu.Lock()
	if c.closed || c.conn != conn || c.state != Connected {
		c.mu.Unlock()
		return chaterr.ErrClosed
	}
	c.state = Joined
	c.mu.Unlock()
	c.notify(Event{Kind: StateChanged, State: Joined})

	c.logger.Info("Joined chat room")
	return nil
}

func (c *Channel) emit(conn Conn, event string, payload any) error {
	env, err := model.NewEnvelope(event, c.tag, payload)
	if err != nil {
		return err
	}
	return conn.Send(env)
}

// Send appends body to the transcript as a pending message and emits it.
// It returns as soon as the message is queued on the connection.
func (c *Channel) Send(body string) (model.Message, error) {
	if strings.TrimSpace(body) == "" {
		return model.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Message{}, chaterr.ErrClosed
	}
	if c.state != Joined {
		c.mu.Unlock()
		return model.Message{}, chaterr.ErrNotJoined
	}

	msg := c.transcript.AppendLocal(model.Message{
		SenderID:   c.self.ID,
		ReceiverID: c.peer.ID,
		Body:       body,
		CreatedAt:  time.Now(),
	})

	// Holding mu keeps sends in call order.
	err := c.emit(c.conn, model.EventSendMessage, model.SendMessage{
		SenderID:   c.self.ID,
		ReceiverID: c.peer.ID,
		Message:    body,
		LocalID:    msg.LocalID,
	})
	c.mu.Unlock()

	c.notify(Event{Kind: MessageAppended, Message: msg})
	if err != nil {
		c.logger.Warn("Failed to send message", zap.String("local_id", msg.LocalID), zap.Error(err))
		return msg, &chaterr.NetworkError{Op: model.EventSendMessage, Err: err}
	}
	return msg, nil
}

// MarkAsRead clears the unread state of the room.
func (c *Channel) MarkAsRead() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Joined || c.closed {
		return chaterr.ErrNotJoined
	}
	return c.emit(c.conn, model.EventMarkAsRead, c.signal())
}

// receive applies inbound envelopes in arrival order until conn ends.
func (c *Channel) receive(conn Conn, done chan struct{}) {
	defer close(done)

	for env := range conn.Inbound() {
		c.handle(env)
	}

	c.mu.Lock()
	lost := !c.closed && c.conn == conn
	if lost {
		c.state = Disconnected
	}
	c.mu.Unlock()

	if lost {
		c.logger.Warn("Chat connection lost; not reconnecting")
		c.notify(Event{Kind: StateChanged, State: Disconnected})
	}
}

func (c *Channel) handle(env model.Envelope) {
	if env.Session != "" && env.Session != c.tag {
		c.logger.Debug("Discarding event for another session", zap.String("event", env.Event), zap.String("event_session", env.Session))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	switch env.Event {
	case model.EventHistoryResult:
		var history []model.Message
		if err := env.Decode(&history); err != nil {
			c.logger.Warn("Malformed chat history", zap.Error(err))
			return
		}
		kept := history[:0]
		for _, m := range history {
			if !c.inRoom(m) {
				c.logger.Warn("Dropping history record for another room", zap.String("id", m.ServerID), zap.String("sender_id", m.SenderID), zap.String("receiver_id", m.ReceiverID))
				continue
			}
			kept = append(kept, m)
		}
		c.transcript.Replace(kept)
		c.mu.Lock()
		c.historyLoaded, c.historyErr = true, nil
		c.mu.Unlock()
		c.notify(Event{Kind: HistoryLoaded})

	case model.EventHistoryError:
		var payload model.HistoryError
		if err := env.Decode(&payload); err != nil {
			c.logger.Warn("Malformed chat history error", zap.Error(err))
		}
		err := fmt.Errorf("%w: %s", chaterr.ErrHistoryUnavailable, payload.Reason)
		c.transcript.Reset()
		c.mu.Lock()
		c.historyLoaded, c.historyErr = true, err
		c.mu.Unlock()
		c.logger.Warn("Chat history unavailable", zap.String("reason", payload.Reason))
		c.notify(Event{Kind: HistoryFailed, Err: err})

	case model.EventReceive:
		var m model.Message
		if err := env.Decode(&m); err != nil {
			c.logger.Warn("Malformed message", zap.Error(err))
			return
		}
		if !c.inRoom(m) {
			return
		}
		switch c.transcript.Receive(m) {
		case transcript.Appended:
			m.DeliveryState = model.Confirmed
			c.notify(Event{Kind: MessageAppended, Message: m})
		case transcript.ConfirmedPending:
			m.DeliveryState = model.Confirmed
			c.notify(Event{Kind: MessageConfirmed, Message: m})
		}

	default:
		c.logger.Debug("Ignoring unknown event", zap.String("event", env.Event))
	}
}

func (c *Channel) inRoom(m model.Message) bool {
	return (m.SenderID == c.self.ID && m.ReceiverID == c.peer.ID) ||
		(m.SenderID == c.peer.ID && m.ReceiverID == c.self.ID)
}

// Close emits a leave signal, releases the connection and discards the
// transcript. It never fails and may be called any number of times.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn, done := c.conn, c.done
	wasConnected := c.state != Disconnected
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		if err := c.emit(conn, model.EventLeaveRoom, c.signal()); err != nil {
			c.logger.Debug("Leave signal not delivered", zap.Error(err))
		}
		if err := conn.Close(); err != nil {
			c.logger.Debug("Closing chat connection", zap.Error(err))
		}
		<-done
	}

	c.transcript.Reset()
	if wasConnected {
		c.notify(Event{Kind: StateChanged, State: Disconnected})
	}
	c.logger.Info("Left chat room")
}
