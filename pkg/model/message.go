package model

import "time"

type DeliveryState string

const (
	Pending   DeliveryState = "pending"
	Confirmed DeliveryState = "confirmed"
)

// Message is one entry of a two-party transcript. LocalID is set for
// messages composed on this client; ServerID once the gateway has stored it.
type Message struct {
	LocalID       string        `json:"localId,omitempty"`
	ServerID      string        `json:"id,omitempty"`
	SenderID      string        `json:"senderId"`
	ReceiverID    string        `json:"receiverId"`
	Body          string        `json:"message"`
	CreatedAt     time.Time     `json:"createdAt"`
	DeliveryState DeliveryState `json:"-"`
}

// Confirm marks the message as observed on the channel, adopting the
// server id and timestamp from the echoed record when present.
func (m *Message) Confirm(echo Message) {
	if echo.ServerID != "" {
		m.ServerID = echo.ServerID
	}
	if !echo.CreatedAt.IsZero() {
		m.CreatedAt = echo.CreatedAt
	}
	m.DeliveryState = Confirmed
}
