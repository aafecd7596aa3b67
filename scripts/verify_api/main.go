// verify_api runs a smoke test against a running API: it logs in two users,
// makes them follow each other, searches the directory and checks that the
// mutual-follow gate lets them message.
package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/mahaj/travelchat/pkg/apiclient"
	"github.com/mahaj/travelchat/pkg/config"
	"github.com/mahaj/travelchat/pkg/directory"
	"github.com/mahaj/travelchat/pkg/follow"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/logging"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/mahaj/travelchat/pkg/session"
	"go.uber.org/zap"
)

type user struct {
	identity model.UserIdentity
	gate     *gate.Gate
	follows  *follow.Client
	dir      *directory.Client
}

func login(ctx context.Context, apiURL, userID string, logger *zap.Logger) *user {
	s := session.New("", model.UserIdentity{}, logger)
	g := gate.New(s, gate.PolicyMutualFollow, logger)
	api := apiclient.New(apiURL, g, logger)

	resp, err := api.Login(ctx, apiclient.LoginRequest{UserID: userID})
	if err != nil {
		logger.Fatal("Login failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.Set(resp.Token, resp.User)
	logger.Info("Logged in", zap.String("user_id", resp.User.ID), zap.String("token", resp.Token[:10]+"..."))

	return &user{identity: resp.User, gate: g, follows: follow.New(api, g, logger), dir: directory.New(api, g)}
}

func main() {
	cfg, err := config.LoadClient(filepath.Join(config.ClientDir(), "config.yaml"))
	if err != nil {
		panic(err)
	}
	logger, err := logging.New("info", true)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := login(ctx, cfg.APIURL, "verify_user_a", logger)
	b := login(ctx, cfg.APIURL, "verify_user_b", logger)

	for _, pair := range [][2]*user{{a, b}, {b, a}} {
		if _, err := pair[0].follows.LoadFollowing(ctx, pair[0].identity.ID); err != nil {
			logger.Fatal("Load following failed", zap.Error(err))
		}
		if err := pair[0].follows.Follow(ctx, pair[0].identity.ID, pair[1].identity.ID); err != nil {
			logger.Fatal("Follow failed", zap.Error(err))
		}
	}
	if _, err := a.follows.LoadFollowers(ctx, a.identity.ID); err != nil {
		logger.Fatal("Load followers failed", zap.Error(err))
	}

	page, err := a.dir.Search(ctx, "verify_user", 1, 10)
	if err != nil {
		logger.Fatal("Search failed", zap.Error(err))
	}
	logger.Info("Directory search", zap.Int("total", page.Total), zap.Int("returned", len(page.Users)))

	if err := a.gate.CanMessage(b.identity.ID, a.follows); err != nil {
		logger.Fatal("Mutual follow gate refused", zap.Error(err))
	}
	logger.Info("API verified")
}
