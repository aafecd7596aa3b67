// Package chaterr defines the error kinds surfaced by the messaging core.
package chaterr

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired means no valid credential is available. It gates the
	// feature and is never fatal to the host.
	ErrAuthRequired = errors.New("authentication required")

	// ErrHistoryUnavailable is reported when the gateway answers a history
	// request with chat-history-error.
	ErrHistoryUnavailable = errors.New("chat history unavailable")

	// ErrNotFound is returned for 404 responses. Following lookups translate
	// it into an empty set.
	ErrNotFound = errors.New("not found")

	ErrSelfFollow     = errors.New("cannot follow yourself")
	ErrFollowRequired = errors.New("messaging requires a mutual follow")
	ErrNotJoined      = errors.New("channel has not joined a room")
	ErrClosed         = errors.New("channel closed")
)

// NetworkError wraps a failed REST call or connection attempt. Retries are
// left to the user.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
