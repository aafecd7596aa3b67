// Package apitest provides helpers for testing REST clients against
// httptest servers.
package apitest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mahaj/travelchat/pkg/apiclient"
	"github.com/mahaj/travelchat/pkg/auth"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/session"
)

// SignedIn returns a session for user with a freshly issued credential.
func SignedIn(t *testing.T, user model.UserIdentity) *session.Context {
	t.Helper()
	token, err := auth.NewIssuer("apitest").GenerateToken(user)
	if err != nil {
		t.Fatal(err)
	}
	return session.New(token, user, nil)
}

// NewClient starts an httptest server with handler and returns a client
// for it along with the gate guarding it.
func NewClient(t *testing.T, s *session.Context, handler http.Handler) (*apiclient.Client, *gate.Gate) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := gate.New(s, gate.PolicyAuthenticated, nil)
	return apiclient.New(srv.URL, g, nil), g
}
