// Package directory searches the user catalog for people to follow or
// message. It holds no chat or follow state of its own.
package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mahaj/travelchat/pkg/apiclient"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/model"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is one page of search results.
type Page struct {
	Users   []model.UserIdentity `json:"users"`
	Page    int                  `json:"page"`
	Limit   int                  `json:"limit"`
	Total   int                  `json:"total"`
	HasMore bool                 `json:"has_more"`
}

type Client struct {
	api  *apiclient.Client
	gate *gate.Gate
}

func New(api *apiclient.Client, g *gate.Gate) *Client {
	return &Client{api: api, gate: g}
}

// Search lists users matching query. Pages start at 1; the signed-in user
// is left out of the results.
func (c *Client) Search(ctx context.Context, query string, page, limit int) (*Page, error) {
	self, err := c.gate.Require()
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var resp Page
	if err := c.api.Do(ctx, http.MethodGet, "/users?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	users := resp.Users[:0]
	for _, u := range resp.Users {
		if u.ID != self.ID {
			users = append(users, u)
		}
	}
	resp.Users = users
	resp.Page = page
	resp.Limit = limit
	return &resp, nil
}
