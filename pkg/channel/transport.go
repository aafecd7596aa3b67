package channel

import (
	"context"

	"github.com/mahaj/travelchat/pkg/model"
)

// Conn is one live event connection.
type Conn interface {
	// Send queues env for delivery. Envelopes are delivered in call order.
	Send(env model.Envelope) error
	// Inbound yields received envelopes and is closed when the
	// connection ends for any reason.
	Inbound() <-chan model.Envelope
	// Close tears the connection down. It is safe to call more than once.
	Close() error
}

// Dialer opens connections, presenting token as the credential. A
// rejected credential is reported as an error wrapping
// chaterr.ErrAuthRequired.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}
