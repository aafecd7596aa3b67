// Package transcript merges authoritative history with locally echoed
// messages into one ordered view.
//
// Entries are kept in arrival order. CreatedAt is for display only and is
// never used to reorder, so clock skew between peers cannot shuffle the
// conversation.
//
// An inbound message confirms a pending local entry instead of being
// appended when it echoes that entry's local id, or, lacking one, when
// sender, receiver and body match and the timestamps lie within the match
// window. A message whose server id is already present is dropped, so
// redelivered events never render twice.
package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/travelchat/pkg/model"
)

// DefaultMatchWindow bounds the timestamp distance for content matching.
const DefaultMatchWindow = 10 * time.Second

// NewLocalID returns an identifier for an optimistic message.
func NewLocalID() string {
	return "local-" + uuid.NewString()
}

// Outcome says what Receive did with an inbound message.
type Outcome int

const (
	Appended Outcome = iota
	ConfirmedPending
	Duplicate
)

type Transcript struct {
	mu      sync.RWMutex
	entries []model.Message
	window  time.Duration
}

func New() *Transcript {
	return &Transcript{window: DefaultMatchWindow}
}

// WithMatchWindow returns t after setting its content match window.
func (t *Transcript) WithMatchWindow(d time.Duration) *Transcript {
	t.window = d
	return t
}

// AppendLocal adds an optimistic message in Pending state. A LocalID is
// assigned when the message has none.
func (t *Transcript) AppendLocal(m model.Message) model.Message {
	if m.LocalID == "" {
		m.LocalID = NewLocalID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.DeliveryState = model.Pending

	t.mu.Lock()
	t.entries = append(t.entries, m)
	t.mu.Unlock()
	return m
}

// Receive reconciles one inbound message.
func (t *Transcript) Receive(m model.Message) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.ServerID != "" && t.indexServer(m.ServerID) >= 0 {
		return Duplicate
	}

	if m.LocalID != "" {
		for i := range t.entries {
			if t.entries[i].LocalID != m.LocalID {
				continue
			}
			if t.entries[i].DeliveryState == model.Confirmed {
				return Duplicate
			}
			t.entries[i].Confirm(m)
			return ConfirmedPending
		}
	}

	if m.ServerID == "" && t.seen(m) {
		return Duplicate
	}

	if i := t.matchPending(m); i >= 0 {
		t.entries[i].Confirm(m)
		return ConfirmedPending
	}

	m.DeliveryState = model.Confirmed
	t.entries = append(t.entries, m)
	return Appended
}

func (t *Transcript) indexServer(id string) int {
	for i := range t.entries {
		if t.entries[i].ServerID == id {
			return i
		}
	}
	return -1
}

// seen reports whether a confirmed entry carries exactly m's content and
// timestamp. It identifies redeliveries of messages without a server id.
func (t *Transcript) seen(m model.Message) bool {
	for _, e := range t.entries {
		if e.DeliveryState == model.Confirmed &&
			e.SenderID == m.SenderID && e.ReceiverID == m.ReceiverID &&
			e.Body == m.Body && e.CreatedAt.Equal(m.CreatedAt) {
			return true
		}
	}
	return false
}

// matchPending finds the oldest pending entry with the same content.
func (t *Transcript) matchPending(m model.Message) int {
	for i, e := range t.entries {
		if e.DeliveryState != model.Pending {
			continue
		}
		if e.SenderID != m.SenderID || e.ReceiverID != m.ReceiverID || e.Body != m.Body {
			continue
		}
		if m.CreatedAt.IsZero() || absDuration(m.CreatedAt.Sub(e.CreatedAt)) <= t.window {
			return i
		}
	}
	return -1
}

// Replace swaps the whole transcript for history, in delivered order.
func (t *Transcript) Replace(history []model.Message) {
	entries := make([]model.Message, 0, len(history))
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.ServerID != "" {
			if _, ok := seen[m.ServerID]; ok {
				continue
			}
			seen[m.ServerID] = struct{}{}
		}
		m.DeliveryState = model.Confirmed
		entries = append(entries, m)
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
}

// Reset discards every entry.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]model.Message(nil), t.entries...)
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
