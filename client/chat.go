package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/mahaj/travelchat/pkg/channel"
	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/room"
	"go.uber.org/zap"
)

// runChat opens a chat with peerID and relays lines from in until /quit,
// end of input, or the connection drops. A dropped connection ends the chat;
// run the command again to reconnect.
func runChat(ctx context.Context, a *app, peerID string, in io.Reader) error {
	self, err := a.gate.Require()
	if err != nil {
		return err
	}

	if _, err := a.follows.LoadFollowing(ctx, self.ID); err != nil {
		return err
	}
	if a.cfg.MutualFollow {
		if _, err := a.follows.LoadFollowers(ctx, self.ID); err != nil {
			return err
		}
	}
	peer := model.UserIdentity{ID: peerID}
	for _, u := range a.follows.Following() {
		if u.ID == peerID {
			peer = u
		}
	}

	var leaving atomic.Bool
	lost := make(chan struct{}, 1)

	coord := room.NewCoordinator(room.Options{
		Gate:    a.gate,
		Dialer:  a.dialer,
		Follows: a.follows,
		Logger:  a.logger,
		OnEvent: func(s *room.ChatSession, ev channel.Event) {
			switch ev.Kind {
			case channel.HistoryLoaded:
				for _, m := range s.Transcript().Messages() {
					a.out.Println(renderMessage(m, s.Self, s.Peer))
				}
			case channel.HistoryFailed:
				a.out.Println(renderNotice("Chat history is unavailable right now."))
			case channel.MessageAppended, channel.MessageConfirmed:
				// Lines typed here show up pending first. Our own messages
				// sent from another device arrive already confirmed.
				a.out.Println(renderMessage(ev.Message, s.Self, s.Peer))
			case channel.StateChanged:
				if ev.State == channel.Disconnected && !leaving.Load() {
					select {
					case lost <- struct{}{}:
					default:
					}
				}
			}
		},
	})

	session, err := coord.Open(ctx, peer)
	switch {
	case errors.Is(err, chaterr.ErrFollowRequired):
		return errors.New("you can only chat with users who follow you back")
	case errors.Is(err, room.ErrSelfChat):
		return errors.New("you cannot chat with yourself")
	case err != nil:
		return err
	}
	defer func() {
		leaving.Store(true)
		coord.CloseCurrent()
	}()

	a.out.Println(renderNotice("Chatting with " + displayName(peer) + ". /read marks the chat read, /quit leaves."))

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			a.out.Println(renderNotice("Connection lost."))
			return &chaterr.NetworkError{Op: "chat", Err: errors.New("connection lost")}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			switch text {
			case "":
				continue
			case "/quit":
				return nil
			case "/read":
				if err := session.Channel().MarkAsRead(); err != nil {
					a.logger.Warn("Mark as read failed", zap.Error(err))
				}
				continue
			}
			if _, err := session.Send(text); err != nil {
				a.out.Println(renderNotice("Not sent: " + err.Error()))
			}
		}
	}
}
