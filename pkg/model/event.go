package model

import "encoding/json"

// Event names exchanged over the chat connection.
const (
	EventJoinRoom      = "join-chat-room"
	EventLeaveRoom     = "leave-chat-room"
	EventMarkAsRead    = "mark-as-read"
	EventChatHistory   = "chat-history"
	EventSendMessage   = "send-message"
	EventHistoryResult = "chat-history-result"
	EventHistoryError  = "chat-history-error"
	EventReceive       = "receive-message"
)

// Envelope frames every event on the wire. Session tags room-scoped
// requests so that replies for an abandoned session can be recognized.
type Envelope struct {
	Event   string          `json:"event"`
	Session string          `json:"session,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RoomSignal is the payload of join, leave, mark-as-read and history requests.
type RoomSignal struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

type SendMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	LocalID    string `json:"localId,omitempty"`
}

type HistoryError struct {
	Reason string `json:"reason"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event, session string, payload any) (Envelope, error) {
	env := Envelope{Event: event, Session: session}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
