// Package follow keeps the signed-in user's side of the follow graph.
//
// The Client's set is the single source of truth for "is following" across
// the application. Follow and Unfollow update it optimistically before the
// remote call; a failed call is logged and returned but not rolled back, so
// local state stays ahead of the server until the next LoadFollowing.
package follow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/mahaj/travelchat/pkg/apiclient"
	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/logging"
	"github.com/mahaj/travelchat/pkg/model"
	"go.uber.org/zap"
)

// ListResponse is the body of the following and followers endpoints.
type ListResponse struct {
	Users []model.UserIdentity `json:"users"`
}

type Client struct {
	api    *apiclient.Client
	gate   *gate.Gate
	logger *zap.Logger

	mu        sync.RWMutex
	following map[string]model.UserIdentity
	followers map[string]model.UserIdentity
}

func New(api *apiclient.Client, g *gate.Gate, logger *zap.Logger) *Client {
	return &Client{
		api:       api,
		gate:      g,
		logger:    logging.OrNop(logger),
		following: make(map[string]model.UserIdentity),
		followers: make(map[string]model.UserIdentity),
	}
}

func followingPath(selfID string) string {
	return "/users/" + url.PathEscape(selfID) + "/following"
}

func followersPath(selfID string) string {
	return "/users/" + url.PathEscape(selfID) + "/followers"
}

func edgePath(selfID, targetID string) string {
	return followingPath(selfID) + "/" + url.PathEscape(targetID)
}

// LoadFollowing replaces the local following set with the server's. A 404
// means the user follows nobody yet and yields an empty set.
func (c *Client) LoadFollowing(ctx context.Context, selfID string) ([]model.UserIdentity, error) {
	users, err := c.fetch(ctx, followingPath(selfID))
	if err != nil {
		return nil, fmt.Errorf("load following: %w", err)
	}

	c.mu.Lock()
	c.following = index(users)
	c.mu.Unlock()

	c.logger.Debug("Following set loaded", zap.String("user_id", selfID), zap.Int("count", len(users)))
	return c.Following(), nil
}

// LoadFollowers replaces the local follower set. It feeds the mutual
// follow check of the access gate.
func (c *Client) LoadFollowers(ctx context.Context, selfID string) ([]model.UserIdentity, error) {
	users, err := c.fetch(ctx, followersPath(selfID))
	if err != nil {
		return nil, fmt.Errorf("load followers: %w", err)
	}

	c.mu.Lock()
	c.followers = index(users)
	c.mu.Unlock()

	return sorted(c.snapshot(func() map[string]model.UserIdentity { return c.followers })), nil
}

func (c *Client) fetch(ctx context.Context, path string) ([]model.UserIdentity, error) {
	if _, err := c.gate.Require(); err != nil {
		return nil, err
	}

	var resp ListResponse
	err := c.api.Do(ctx, http.MethodGet, path, nil, &resp)
	if errors.Is(err, chaterr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Follow adds targetID to the following set and tells the server.
// Following someone already followed is a no-op.
func (c *Client) Follow(ctx context.Context, selfID, targetID string) error {
	if _, err := c.gate.Require(); err != nil {
		return err
	}
	if targetID == selfID {
		return chaterr.ErrSelfFollow
	}

	c.mu.Lock()
	if _, ok := c.following[targetID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.following[targetID] = model.UserIdentity{ID: targetID}
	c.mu.Unlock()

	if err := c.api.Do(ctx, http.MethodPut, edgePath(selfID, targetID), nil, nil); err != nil {
		c.logger.Warn("Follow failed; keeping local state until next reload",
			zap.String("user_id", selfID), zap.String("target_id", targetID), zap.Error(err))
		return fmt.Errorf("follow %s: %w", targetID, err)
	}
	return nil
}

// Unfollow removes targetID from the following set and tells the server.
// Unfollowing someone not followed is a no-op.
func (c *Client) Unfollow(ctx context.Context, selfID, targetID string) error {
	if _, err := c.gate.Require(); err != nil {
		return err
	}
	if targetID == selfID {
		return chaterr.ErrSelfFollow
	}

	c.mu.Lock()
	if _, ok := c.following[targetID]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.following, targetID)
	c.mu.Unlock()

	if err := c.api.Do(ctx, http.MethodDelete, edgePath(selfID, targetID), nil, nil); err != nil {
		c.logger.Warn("Unfollow failed; keeping local state until next reload",
			zap.String("user_id", selfID), zap.String("target_id", targetID), zap.Error(err))
		return fmt.Errorf("unfollow %s: %w", targetID, err)
	}
	return nil
}

func (c *Client) IsFollowing(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.following[userID]
	return ok
}

func (c *Client) IsFollowedBy(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.followers[userID]
	return ok
}

// Following returns a copy of the following set ordered by user id.
func (c *Client) Following() []model.UserIdentity {
	return sorted(c.snapshot(func() map[string]model.UserIdentity { return c.following }))
}

func (c *Client) snapshot(set func() map[string]model.UserIdentity) []model.UserIdentity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := set()
	out := make([]model.UserIdentity, 0, len(m))
	for _, u := range m {
		out = append(out, u)
	}
	return out
}

func index(users []model.UserIdentity) map[string]model.UserIdentity {
	m := make(map[string]model.UserIdentity, len(users))
	for _, u := range users {
		if u.ID != "" {
			m[u.ID] = u
		}
	}
	return m
}

func sorted(users []model.UserIdentity) []model.UserIdentity {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}
