package channel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/travelchat/pkg/apiclient/apitest"
	"github.com/mahaj/travelchat/pkg/channel"
	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoGateway answers history requests with one message and echoes sends
// back as receive-message events.
type echoGateway struct {
	token string

	mu     sync.Mutex
	events []string
}

func (g *echoGateway) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.events...)
}

func (g *echoGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+g.token {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		g.mu.Lock()
		g.events = append(g.events, env.Event)
		g.mu.Unlock()

		switch env.Event {
		case model.EventChatHistory:
			reply, _ := model.NewEnvelope(model.EventHistoryResult, env.Session, []model.Message{
				{ServerID: "1", SenderID: "u2", ReceiverID: "u1", Body: "welcome", CreatedAt: time.Now()},
			})
			conn.WriteJSON(reply)
		case model.EventSendMessage:
			var p model.SendMessage
			env.Decode(&p)
			reply, _ := model.NewEnvelope(model.EventReceive, env.Session, model.Message{
				ServerID: "2", LocalID: p.LocalID, SenderID: p.SenderID, ReceiverID: p.ReceiverID, Body: p.Message, CreatedAt: time.Now(),
			})
			conn.WriteJSON(reply)
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWebSocketDialer_EndToEnd(t *testing.T) {
	s := apitest.SignedIn(t, self)
	token, ok := s.Token()
	require.True(t, ok)

	gw := &echoGateway{token: token}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	ch := channel.New(channel.Options{
		Self:   self,
		Peer:   peer,
		Gate:   gate.New(s, gate.PolicyAuthenticated, nil),
		Dialer: &channel.WebSocketDialer{URL: wsURL(srv)},
	})

	require.NoError(t, ch.Connect(context.Background()))
	require.Eventually(t, func() bool {
		loaded, _ := ch.History()
		return loaded
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "welcome", ch.Transcript().Messages()[0].Body)

	_, err := ch.Send("hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := ch.Transcript().Messages()
		return len(msgs) == 2 && msgs[1].DeliveryState == model.Confirmed
	}, 2*time.Second, 10*time.Millisecond)

	ch.Close()
	require.Eventually(t, func() bool {
		events := gw.seen()
		return len(events) > 0 && events[len(events)-1] == model.EventLeaveRoom
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{
		model.EventJoinRoom, model.EventMarkAsRead, model.EventChatHistory, model.EventSendMessage, model.EventLeaveRoom,
	}, gw.seen())
}

func TestWebSocketDialer_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(&echoGateway{token: "something-else"})
	defer srv.Close()

	d := &channel.WebSocketDialer{URL: wsURL(srv)}
	_, err := d.Dial(context.Background(), "wrong")
	assert.ErrorIs(t, err, chaterr.ErrAuthRequired)
}

func TestWebSocketDialer_Unreachable(t *testing.T) {
	d := &channel.WebSocketDialer{URL: "ws://127.0.0.1:1/ws"}
	_, err := d.Dial(context.Background(), "token")
	assert.True(t, chaterr.IsNetwork(err))
}
