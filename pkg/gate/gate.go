// Package gate decides whether identity-bound actions (follow, unfollow,
// opening a chat) may proceed.
package gate

import (
	"slices"
	"sync"

	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/logging"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/session"
	"go.uber.org/zap"
)

type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Policy selects how strict messaging access is.
type Policy int

const (
	// PolicyAuthenticated lets any signed-in user message anyone.
	PolicyAuthenticated Policy = iota
	// PolicyMutualFollow additionally requires both users to follow each other.
	PolicyMutualFollow
)

// FollowLookup answers follow-graph questions about the signed-in user.
type FollowLookup interface {
	IsFollowing(userID string) bool
	IsFollowedBy(userID string) bool
}

// Gate is the Access Gate. Its state is derived from the session context
// on every call, so a login or a revoked credential takes effect at once.
type Gate struct {
	session *session.Context
	policy  Policy
	logger  *zap.Logger

	mu        sync.Mutex
	last      State
	listeners []func(State)
}

func New(s *session.Context, policy Policy, logger *zap.Logger) *Gate {
	g := &Gate{session: s, policy: policy, logger: logging.OrNop(logger)}
	g.last = g.compute()
	return g
}

func (g *Gate) compute() State {
	if _, _, ok := g.session.Snapshot(); ok {
		return Authenticated
	}
	return Unauthenticated
}

// OnChange registers fn to be called after every state transition. A
// transition to Unauthenticated is the cue to show a login affordance.
func (g *Gate) OnChange(fn func(State)) {
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

// State re-evaluates the session and reports the current state.
func (g *Gate) State() State {
	next := g.compute()

	g.mu.Lock()
	changed := next != g.last
	g.last = next
	listeners := slices.Clone(g.listeners)
	g.mu.Unlock()

	if changed {
		g.logger.Info("Access gate transition", zap.Stringer("state", next))
		for _, fn := range listeners {
			fn(next)
		}
	}
	return next
}

// Require returns the signed-in identity, or ErrAuthRequired.
func (g *Gate) Require() (model.UserIdentity, error) {
	if g.State() != Authenticated {
		return model.UserIdentity{}, chaterr.ErrAuthRequired
	}
	user, _ := g.session.Identity()
	return user, nil
}

// Token returns the credential for an authenticated session.
func (g *Gate) Token() (string, error) {
	token, _, ok := g.session.Snapshot()
	if !ok {
		g.State()
		return "", chaterr.ErrAuthRequired
	}
	return token, nil
}

// Revoke drops the credential after the server rejected it (401/403).
func (g *Gate) Revoke() {
	g.session.Invalidate()
	g.State()
}

// CanMessage checks whether the signed-in user may open a chat with peerID.
func (g *Gate) CanMessage(peerID string, lookup FollowLookup) error {
	if _, err := g.Require(); err != nil {
		return err
	}
	if g.policy != PolicyMutualFollow {
		return nil
	}
	if lookup == nil || !lookup.IsFollowing(peerID) || !lookup.IsFollowedBy(peerID) {
		return chaterr.ErrFollowRequired
	}
	return nil
}
