package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/mahaj/travelchat/pkg/apiclient"
	"github.com/mahaj/travelchat/pkg/auth"
	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/db"
	"github.com/mahaj/travelchat/pkg/directory"
	"github.com/mahaj/travelchat/pkg/follow"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "api-test"

type memUsers struct {
	mu    sync.Mutex
	users map[string]model.UserIdentity
}

func (m *memUsers) Upsert(_ context.Context, user model.UserIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memUsers) Get(_ context.Context, id string) (model.UserIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return model.UserIdentity{}, db.ErrUserNotFound
	}
	return user, nil
}

func (m *memUsers) Search(_ context.Context, query string, page, limit int) ([]model.UserIdentity, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.UserIdentity
	for _, u := range m.users {
		if strings.Contains(strings.ToLower(u.DisplayName+" "+u.ID), strings.ToLower(query)) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return db.Paginate(out, page, limit), len(out), nil
}

type memFollows struct {
	mu    sync.Mutex
	edges map[string]map[string]bool
	users *memUsers
	err   error
}

func (m *memFollows) Follow(_ context.Context, userID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.edges[userID] == nil {
		m.edges[userID] = map[string]bool{}
	}
	m.edges[userID][targetID] = true
	return nil
}

func (m *memFollows) Unfollow(_ context.Context, userID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.edges[userID], targetID)
	return nil
}

func (m *memFollows) Following(ctx context.Context, userID string) ([]model.UserIdentity, error) {
	m.mu.Lock()
	var ids []string
	for id := range m.edges[userID] {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	return m.resolve(ctx, ids), nil
}

func (m *memFollows) Followers(ctx context.Context, userID string) ([]model.UserIdentity, error) {
	m.mu.Lock()
	var ids []string
	for id, targets := range m.edges {
		if targets[userID] {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	return m.resolve(ctx, ids), nil
}

func (m *memFollows) resolve(ctx context.Context, ids []string) []model.UserIdentity {
	sort.Strings(ids)
	var out []model.UserIdentity
	for _, id := range ids {
		u, _ := m.users.Get(ctx, id)
		out = append(out, u)
	}
	return out
}

type memPresence struct {
	members map[string][]string
	unread  map[string]map[string]string
}

func (p *memPresence) RoomMembers(_ context.Context, roomID string) ([]string, error) {
	return p.members[roomID], nil
}

func (p *memPresence) Unread(_ context.Context, userID string) (map[string]string, error) {
	return p.unread[userID], nil
}

type testAPI struct {
	url      string
	users    *memUsers
	follows  *memFollows
	presence *memPresence
}

func startAPI(t *testing.T) *testAPI {
	t.Helper()
	users := &memUsers{users: map[string]model.UserIdentity{
		"alice": {ID: "alice", DisplayName: "Alice Hiker"},
		"bob":   {ID: "bob", DisplayName: "Bob Climber"},
		"carol": {ID: "carol", DisplayName: "Carol Hiker"},
	}}
	follows := &memFollows{edges: map[string]map[string]bool{}, users: users}
	presence := &memPresence{members: map[string][]string{}, unread: map[string]map[string]string{}}

	issuer := auth.NewIssuer(testSecret)
	logger := zap.NewNop()
	srv := httptest.NewServer(NewRouter(NewHandler(users, follows, issuer, logger), NewPresenceHandler(presence, logger), issuer, logger))
	t.Cleanup(srv.Close)
	return &testAPI{url: srv.URL, users: users, follows: follows, presence: presence}
}

// login signs user in through the API and returns a client core bound to
// the resulting session.
func (a *testAPI) login(t *testing.T, userID string) (*apiclient.Client, *gate.Gate, model.UserIdentity) {
	t.Helper()
	s := session.New("", model.UserIdentity{}, nil)
	g := gate.New(s, gate.PolicyAuthenticated, nil)
	api := apiclient.New(a.url, g, nil)

	resp, err := api.Login(context.Background(), apiclient.LoginRequest{UserID: userID})
	require.NoError(t, err)
	s.Set(resp.Token, resp.User)
	require.Equal(t, gate.Authenticated, g.State())
	return api, g, resp.User
}

func TestLogin_RegistersNewUser(t *testing.T) {
	a := startAPI(t)

	_, _, user := a.login(t, "dave")
	assert.Equal(t, "dave", user.ID)
	assert.Equal(t, "dave", user.DisplayName)

	stored, err := a.users.Get(context.Background(), "dave")
	require.NoError(t, err)
	assert.Equal(t, user, stored)
}

func TestLogin_KeepsExistingProfile(t *testing.T) {
	a := startAPI(t)
	_, _, user := a.login(t, "alice")
	assert.Equal(t, "Alice Hiker", user.DisplayName)
}

func TestLogin_RejectsBadUserID(t *testing.T) {
	a := startAPI(t)
	for _, body := range []string{`{}`, `{"user_id":"a:b"}`, `not json`} {
		resp, err := http.Post(a.url+"/login", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := startAPI(t)
	resp, err := http.Get(a.url + "/users/alice/following")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := auth.NewIssuer("wrong").GenerateToken(model.UserIdentity{ID: "alice"})
	require.NoError(t, err)
	s := session.New(forged, model.UserIdentity{ID: "alice"}, nil)
	g := gate.New(s, gate.PolicyAuthenticated, nil)
	fc := follow.New(apiclient.New(a.url, g, nil), g, nil)

	_, err = fc.LoadFollowing(context.Background(), "alice")
	assert.ErrorIs(t, err, chaterr.ErrAuthRequired)
	assert.Equal(t, gate.Unauthenticated, g.State())
}

func TestFollowLifecycle(t *testing.T) {
	a := startAPI(t)
	api, g, alice := a.login(t, "alice")
	fc := follow.New(api, g, nil)
	ctx := context.Background()

	require.NoError(t, fc.Follow(ctx, alice.ID, "bob"))
	require.NoError(t, fc.Follow(ctx, alice.ID, "carol"))

	following, err := fc.LoadFollowing(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, following, 2)
	assert.Equal(t, "Bob Climber", following[0].DisplayName)

	bobAPI, bobGate, bob := a.login(t, "bob")
	followers, err := follow.New(bobAPI, bobGate, nil).LoadFollowers(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "alice", followers[0].ID)

	require.NoError(t, fc.Unfollow(ctx, alice.ID, "bob"))
	following, err = fc.LoadFollowing(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, "carol", following[0].ID)
}

func TestFollowing_UnknownUserIsNotFound(t *testing.T) {
	a := startAPI(t)
	api, _, _ := a.login(t, "alice")

	var out usersResponse
	err := api.Do(context.Background(), http.MethodGet, "/users/nobody/following", nil, &out)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

func TestFollow_OnlyOwnEdges(t *testing.T) {
	a := startAPI(t)
	api, g, _ := a.login(t, "alice")

	err := api.Do(context.Background(), http.MethodPut, "/users/bob/following/carol", nil, nil)
	assert.ErrorIs(t, err, chaterr.ErrAuthRequired)
	assert.False(t, a.follows.edges["bob"]["carol"])
	// A 403 revokes the credential on the client side.
	assert.Equal(t, gate.Unauthenticated, g.State())
}

func TestFollow_UnknownTargetAndSelf(t *testing.T) {
	a := startAPI(t)
	api, _, _ := a.login(t, "alice")
	ctx := context.Background()

	err := api.Do(ctx, http.MethodPut, "/users/alice/following/nobody", nil, nil)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)

	err = api.Do(ctx, http.MethodPut, "/users/alice/following/alice", nil, nil)
	var netErr *chaterr.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusBadRequest, netErr.Status)
}

func TestFollow_StoreFailureIsServerError(t *testing.T) {
	a := startAPI(t)
	api, g, alice := a.login(t, "alice")
	a.follows.err = errors.New("scylla down")

	err := follow.New(api, g, nil).Follow(context.Background(), alice.ID, "bob")
	var netErr *chaterr.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusInternalServerError, netErr.Status)
	assert.Equal(t, gate.Authenticated, g.State())
}

func TestSearchUsers(t *testing.T) {
	a := startAPI(t)
	api, g, _ := a.login(t, "alice")
	dir := directory.New(api, g)

	page, err := dir.Search(context.Background(), "hiker", 1, 20)
	require.NoError(t, err)
	// alice is filtered out of her own results.
	require.Len(t, page.Users, 1)
	assert.Equal(t, "carol", page.Users[0].ID)
	assert.Equal(t, 2, page.Total)
	assert.False(t, page.HasMore)
}

func TestSearchUsers_Paging(t *testing.T) {
	a := startAPI(t)
	api, _, _ := a.login(t, "alice")

	var out searchResponse
	require.NoError(t, api.Do(context.Background(), http.MethodGet, "/users?limit=1&page=1&q=", nil, &out))
	assert.Equal(t, 1, out.Limit)
	assert.Equal(t, 3, out.Total)
	assert.True(t, out.HasMore)

	require.NoError(t, api.Do(context.Background(), http.MethodGet, "/users?limit=500&page=0", nil, &out))
	assert.Equal(t, maxPageSize, out.Limit)
	assert.Equal(t, 1, out.Page)
	assert.False(t, out.HasMore)
}

func TestPresenceRoutes(t *testing.T) {
	a := startAPI(t)
	a.presence.members["dm:alice:bob"] = []string{"bob", "alice"}
	a.presence.unread["alice"] = map[string]string{"carol": "2", "bob": "1", "dave": "0"}
	api, _, _ := a.login(t, "alice")
	ctx := context.Background()

	var online struct {
		Room   string   `json:"room"`
		Online []string `json:"online"`
	}
	require.NoError(t, api.Do(ctx, http.MethodGet, "/rooms/bob/presence", nil, &online))
	assert.Equal(t, "dm:alice:bob", online.Room)
	assert.Equal(t, []string{"alice", "bob"}, online.Online)

	var unread struct {
		Unread []UnreadCount `json:"unread"`
	}
	require.NoError(t, api.Do(ctx, http.MethodGet, "/users/alice/unread", nil, &unread))
	assert.Equal(t, []UnreadCount{{PeerID: "bob", Count: 1}, {PeerID: "carol", Count: 2}}, unread.Unread)
}

func TestCORSPreflight(t *testing.T) {
	a := startAPI(t)
	req, err := http.NewRequest(http.MethodOptions, a.url+"/login", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestErrorBodyIsJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusTeapot, "short and stout")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "short and stout", body["error"])
}
