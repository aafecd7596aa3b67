package follow

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/mahaj/travelchat/pkg/apiclient/apitest"
	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var self = model.UserIdentity{ID: "u1", Handle: "ana"}

// fakeAPI records calls and answers with canned statuses.
type fakeAPI struct {
	mu        sync.Mutex
	calls     []string
	following []model.UserIdentity
	followers []model.UserIdentity
	status    int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) int {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		return f.status
	}
	mux.HandleFunc("GET /users/{id}/following", func(w http.ResponseWriter, r *http.Request) {
		if st := record(r); st != 0 {
			w.WriteHeader(st)
			return
		}
		json.NewEncoder(w).Encode(ListResponse{Users: f.following})
	})
	mux.HandleFunc("GET /users/{id}/followers", func(w http.ResponseWriter, r *http.Request) {
		if st := record(r); st != 0 {
			w.WriteHeader(st)
			return
		}
		json.NewEncoder(w).Encode(ListResponse{Users: f.followers})
	})
	edge := func(w http.ResponseWriter, r *http.Request) {
		if st := record(r); st != 0 {
			w.WriteHeader(st)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
	mux.HandleFunc("PUT /users/{id}/following/{target}", edge)
	mux.HandleFunc("DELETE /users/{id}/following/{target}", edge)
	return mux
}

func (f *fakeAPI) setStatus(status int) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestClient(t *testing.T, s *session.Context, api *fakeAPI) (*Client, *gate.Gate) {
	t.Helper()
	rest, g := apitest.NewClient(t, s, api.handler())
	return New(rest, g, nil), g
}

func ids(users []model.UserIdentity) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestLoadFollowing_NotFoundIsEmpty(t *testing.T) {
	api := &fakeAPI{status: http.StatusNotFound}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)

	users, err := c.LoadFollowing(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Empty(t, c.Following())
}

func TestLoadFollowing_ReplacesWholesale(t *testing.T) {
	api := &fakeAPI{following: []model.UserIdentity{{ID: "u3"}, {ID: "u2"}}}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)
	c.following["stale"] = model.UserIdentity{ID: "stale"}

	users, err := c.LoadFollowing(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, ids(users))
	assert.False(t, c.IsFollowing("stale"))
	assert.True(t, c.IsFollowing("u2"))
}

func TestLoadFollowing_ServerErrorKeepsSet(t *testing.T) {
	api := &fakeAPI{status: http.StatusBadGateway}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)
	c.following["u2"] = model.UserIdentity{ID: "u2"}

	_, err := c.LoadFollowing(context.Background(), "u1")
	assert.True(t, chaterr.IsNetwork(err))
	assert.True(t, c.IsFollowing("u2"))
}

func TestLoadFollowing_UnauthorizedRevokes(t *testing.T) {
	api := &fakeAPI{status: http.StatusUnauthorized}
	c, g := newTestClient(t, apitest.SignedIn(t, self), api)

	_, err := c.LoadFollowing(context.Background(), "u1")
	assert.ErrorIs(t, err, chaterr.ErrAuthRequired)
	assert.Equal(t, gate.Unauthenticated, g.State())
}

func TestLoadFollowing_RequiresSession(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, session.New("", model.UserIdentity{}, nil), api)

	_, err := c.LoadFollowing(context.Background(), "u1")
	assert.ErrorIs(t, err, chaterr.ErrAuthRequired)
	assert.Empty(t, api.Calls())
}

func TestFollow_Idempotent(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)
	ctx := context.Background()

	require.NoError(t, c.Follow(ctx, "u1", "u2"))
	require.NoError(t, c.Follow(ctx, "u1", "u2"))

	assert.Equal(t, []string{"u2"}, ids(c.Following()))
	assert.Equal(t, []string{"PUT /users/u1/following/u2"}, api.Calls())
}

func TestUnfollow_NotFollowingIsNoop(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)

	require.NoError(t, c.Unfollow(context.Background(), "u1", "u2"))
	assert.Empty(t, api.Calls())
}

func TestUnfollow(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)
	ctx := context.Background()

	require.NoError(t, c.Follow(ctx, "u1", "u2"))
	require.NoError(t, c.Unfollow(ctx, "u1", "u2"))

	assert.False(t, c.IsFollowing("u2"))
	assert.Equal(t, []string{"PUT /users/u1/following/u2", "DELETE /users/u1/following/u2"}, api.Calls())
}

func TestFollow_SelfRejectedLocally(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)

	assert.ErrorIs(t, c.Follow(context.Background(), "u1", "u1"), chaterr.ErrSelfFollow)
	assert.Empty(t, api.Calls())
	assert.Empty(t, c.Following())
}

func TestFollow_RemoteFailureKeepsOptimisticState(t *testing.T) {
	api := &fakeAPI{status: http.StatusInternalServerError}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)

	err := c.Follow(context.Background(), "u1", "u2")
	require.Error(t, err)
	assert.True(t, chaterr.IsNetwork(err))
	assert.True(t, c.IsFollowing("u2"), "no rollback until the next LoadFollowing")

	api.setStatus(0)
	_, err = c.LoadFollowing(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, c.IsFollowing("u2"))
}

func TestUnfollow_RemoteFailureKeepsOptimisticState(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)
	require.NoError(t, c.Follow(context.Background(), "u1", "u2"))

	api.setStatus(http.StatusInternalServerError)
	require.Error(t, c.Unfollow(context.Background(), "u1", "u2"))
	assert.False(t, c.IsFollowing("u2"))
}

func TestFollow_Unauthenticated(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, session.New("", model.UserIdentity{}, nil), api)

	assert.ErrorIs(t, c.Follow(context.Background(), "u1", "u2"), chaterr.ErrAuthRequired)
	assert.ErrorIs(t, c.Unfollow(context.Background(), "u1", "u2"), chaterr.ErrAuthRequired)
	assert.Empty(t, api.Calls())
}

func TestLoadFollowers_MutualLookup(t *testing.T) {
	api := &fakeAPI{
		following: []model.UserIdentity{{ID: "u2"}, {ID: "u3"}},
		followers: []model.UserIdentity{{ID: "u2"}},
	}
	c, _ := newTestClient(t, apitest.SignedIn(t, self), api)
	ctx := context.Background()

	_, err := c.LoadFollowing(ctx, "u1")
	require.NoError(t, err)
	followers, err := c.LoadFollowers(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ids(followers))

	g := gate.New(apitest.SignedIn(t, self), gate.PolicyMutualFollow, nil)
	assert.NoError(t, g.CanMessage("u2", c))
	assert.ErrorIs(t, g.CanMessage("u3", c), chaterr.ErrFollowRequired)
}
