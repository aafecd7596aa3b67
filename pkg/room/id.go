package room

import (
	"fmt"
	"strings"
)

const prefix = "dm:"

// ID identifies the conversation between two users. It is comparable and
// can be used as a map key. Build it with Canonicalize.
type ID struct {
	Low  string
	High string
}

// Canonicalize returns the room of users a and b. The result does not
// depend on argument order.
func Canonicalize(a, b string) ID {
	if a > b {
		a, b = b, a
	}
	return ID{Low: a, High: b}
}

// String returns the wire form dm:<low>:<high>.
func (id ID) String() string {
	return prefix + id.Low + ":" + id.High
}

// Has reports whether user is one of the two participants.
func (id ID) Has(user string) bool {
	return user == id.Low || user == id.High
}

// Other returns the participant that is not user.
func (id ID) Other(user string) string {
	if user == id.Low {
		return id.High
	}
	return id.Low
}

// Parse reads the wire form produced by String.
func Parse(s string) (ID, error) {
	if !strings.HasPrefix(s, prefix) {
		return ID{}, fmt.Errorf("invalid DM room %q", s)
	}
	parts := strings.Split(s[len(prefix):], ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ID{}, fmt.Errorf("invalid DM room %q", s)
	}
	id := Canonicalize(parts[0], parts[1])
	if id.Low != parts[0] {
		return ID{}, fmt.Errorf("DM room %q is not canonical", s)
	}
	return id, nil
}
