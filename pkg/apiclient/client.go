// Package apiclient is the bearer-authenticated REST client shared by the
// follow graph and directory clients.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/logging"
	"github.com/mahaj/travelchat/pkg/model"
	"go.uber.org/zap"
)

// Client talks to the REST API. Credentials come from the access gate;
// a 401 or 403 answer revokes them.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	gate   *gate.Gate
	logger *zap.Logger
}

func New(baseURL string, g *gate.Gate, logger *zap.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		gate:       g,
		logger:     logging.OrNop(logger),
	}
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Handle      string `json:"handle,omitempty"`
}

type LoginResponse struct {
	Token string             `json:"token"`
	User  model.UserIdentity `json:"user"`
}

// Login exchanges a user id for a credential. It is the only call made
// without one.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/login", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Do performs an authenticated request, decoding a JSON response into out
// when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.gate.Token()
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, token, in, out)
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return &chaterr.NetworkError{Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Warn("Request failed", zap.String("op", op), zap.Error(err))
		return &chaterr.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &chaterr.NetworkError{Op: op, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.Info("Credential rejected", zap.String("op", op), zap.Int("status", resp.StatusCode))
		if token != "" {
			c.gate.Revoke()
		}
		return fmt.Errorf("%s: %w", op, chaterr.ErrAuthRequired)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, chaterr.ErrNotFound)
	case resp.StatusCode >= 400:
		var errResp struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &chaterr.NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", msg)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
