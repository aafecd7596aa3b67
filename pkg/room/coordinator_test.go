package room

import (
	"context"
	"testing"
	"time"

	"github.com/mahaj/travelchat/pkg/apiclient/apitest"
	"github.com/mahaj/travelchat/pkg/channel"
	"github.com/mahaj/travelchat/pkg/channel/channeltest"
	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	u1 = model.UserIdentity{ID: "u1", Handle: "ana"}
	u2 = model.UserIdentity{ID: "u2", Handle: "bo"}
	u3 = model.UserIdentity{ID: "u3", Handle: "cy"}
)

type follows map[string]bool

func (f follows) IsFollowing(id string) bool  { return f[id] }
func (f follows) IsFollowedBy(id string) bool { return f[id] }

func newCoordinator(t *testing.T, s *session.Context, policy gate.Policy, f gate.FollowLookup) (*Coordinator, *channeltest.Dialer) {
	t.Helper()
	d := &channeltest.Dialer{}
	c := NewCoordinator(Options{Gate: gate.New(s, policy, nil), Dialer: d, Follows: f})
	t.Cleanup(c.CloseCurrent)
	return c, d
}

type journalEntry struct {
	event string
	room  ID
}

func journal(t *testing.T, d *channeltest.Dialer) []journalEntry {
	t.Helper()
	var out []journalEntry
	for _, env := range d.Journal() {
		var sig model.RoomSignal
		require.NoError(t, env.Decode(&sig))
		out = append(out, journalEntry{env.Event, Canonicalize(sig.SenderID, sig.ReceiverID)})
	}
	return out
}

func TestOpen_Unauthenticated(t *testing.T) {
	c, d := newCoordinator(t, session.New("", model.UserIdentity{}, nil), gate.PolicyAuthenticated, nil)

	s, err := c.Open(context.Background(), u2)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, chaterr.ErrAuthRequired)
	assert.Zero(t, d.Calls())
	assert.Nil(t, c.Current())
}

func TestOpen_Self(t *testing.T) {
	c, d := newCoordinator(t, apitest.SignedIn(t, u1), gate.PolicyAuthenticated, nil)
	_, err := c.Open(context.Background(), u1)
	assert.ErrorIs(t, err, ErrSelfChat)
	assert.Zero(t, d.Calls())
}

func TestOpen_MutualFollowRequired(t *testing.T) {
	c, d := newCoordinator(t, apitest.SignedIn(t, u1), gate.PolicyMutualFollow, follows{"u3": true})

	_, err := c.Open(context.Background(), u2)
	assert.ErrorIs(t, err, chaterr.ErrFollowRequired)
	assert.Zero(t, d.Calls())

	s, err := c.Open(context.Background(), u3)
	require.NoError(t, err)
	assert.Equal(t, Canonicalize("u1", "u3"), s.Room)
}

func TestOpen_Joins(t *testing.T) {
	c, d := newCoordinator(t, apitest.SignedIn(t, u1), gate.PolicyAuthenticated, nil)

	s, err := c.Open(context.Background(), u2)
	require.NoError(t, err)
	assert.Equal(t, channel.Joined, s.State())
	assert.Equal(t, Canonicalize("u2", "u1"), s.Room)
	assert.Same(t, s, c.Current())
	assert.Equal(t, 1, d.Calls())
}

func TestOpen_SamePeerReusesSession(t *testing.T) {
	c, d := newCoordinator(t, apitest.SignedIn(t, u1), gate.PolicyAuthenticated, nil)

	first, err := c.Open(context.Background(), u2)
	require.NoError(t, err)
	second, err := c.Open(context.Background(), u2)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, d.Calls())
}

func TestOpen_SwitchPeerLeavesFirst(t *testing.T) {
	c, d := newCoordinator(t, apitest.SignedIn(t, u1), gate.PolicyAuthenticated, nil)
	ctx := context.Background()

	a, err := c.Open(ctx, u2)
	require.NoError(t, err)
	a.Channel().Transcript().Receive(model.Message{ServerID: "1", SenderID: "u2", ReceiverID: "u1", Body: "from u2"})

	b, err := c.Open(ctx, u3)
	require.NoError(t, err)

	assert.Same(t, b, c.Current())
	assert.Equal(t, channel.Disconnected, a.State())
	assert.True(t, d.Conn(0).Closed())

	roomA, roomB := Canonicalize("u1", "u2"), Canonicalize("u1", "u3")
	entries := journal(t, d)
	leaveA, joinB := -1, -1
	for i, e := range entries {
		if e.event == model.EventLeaveRoom && e.room == roomA {
			leaveA = i
		}
		if e.event == model.EventJoinRoom && e.room == roomB {
			joinB = i
		}
	}
	require.NotEqual(t, -1, leaveA, "leave for the old room")
	require.NotEqual(t, -1, joinB, "join for the new room")
	assert.Less(t, leaveA, joinB)

	// A late history reply for the abandoned room must not reach the new one.
	d.Conn(0).Push(model.EventHistoryResult, a.Channel().Tag(), []model.Message{{ServerID: "1", SenderID: "u2", ReceiverID: "u1", Body: "late"}})
	conn := d.Conn(1)
	conn.Push(model.EventHistoryResult, "", []model.Message{{ServerID: "1", SenderID: "u2", ReceiverID: "u1", Body: "u2 on the wrong socket"}})
	conn.Push(model.EventHistoryResult, b.Channel().Tag(), []model.Message{{ServerID: "5", SenderID: "u3", ReceiverID: "u1", Body: "from u3"}})

	require.Eventually(t, func() bool {
		loaded, _ := b.Channel().History()
		return loaded
	}, time.Second, 5*time.Millisecond)

	msgs := b.Transcript().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "from u3", msgs[0].Body)
	assert.Zero(t, a.Transcript().Len(), "closed session's transcript is discarded")
}

func TestOpen_ConnectFailure(t *testing.T) {
	c, d := newCoordinator(t, apitest.SignedIn(t, u1), gate.PolicyAuthenticated, nil)
	d.Err = &chaterr.NetworkError{Op: "dial", Err: context.DeadlineExceeded}

	_, err := c.Open(context.Background(), u2)
	assert.True(t, chaterr.IsNetwork(err))
	assert.Nil(t, c.Current())
}

func TestClose_Idempotent(t *testing.T) {
	c, d := newCoordinator(t, apitest.SignedIn(t, u1), gate.PolicyAuthenticated, nil)
	s, err := c.Open(context.Background(), u2)
	require.NoError(t, err)

	d.Conn(0).Drop()
	require.Eventually(t, func() bool { return s.State() == channel.Disconnected }, time.Second, 5*time.Millisecond)

	c.Close(s)
	c.Close(s)
	c.Close(nil)
	c.CloseCurrent()
	assert.Nil(t, c.Current())
}

func TestSession_Send(t *testing.T) {
	c, d := newCoordinator(t, apitest.SignedIn(t, u1), gate.PolicyAuthenticated, nil)
	s, err := c.Open(context.Background(), u2)
	require.NoError(t, err)

	msg, err := s.Send("hello")
	require.NoError(t, err)
	assert.Equal(t, model.Pending, msg.DeliveryState)
	assert.Equal(t, model.EventSendMessage, d.Conn(0).Events()[3])
}
