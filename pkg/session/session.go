// Package session holds the signed-in user's credential and identity.
//
// A Context is built once at startup (usually from the persisted session
// file) and handed to every component that needs to know who the user is.
// Components never read the file themselves.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mahaj/travelchat/pkg/auth"
	"github.com/mahaj/travelchat/pkg/logging"
	"github.com/mahaj/travelchat/pkg/model"
	"go.uber.org/zap"
)

// Context is the Session Identity Store.
type Context struct {
	mu       sync.RWMutex
	token    string
	identity model.UserIdentity
	now      func() time.Time
	logger   *zap.Logger
}

// persisted is the on-disk session record.
type persisted struct {
	Token string             `json:"token"`
	User  model.UserIdentity `json:"user"`
}

// New returns a context holding token and identity.
func New(token string, identity model.UserIdentity, logger *zap.Logger) *Context {
	return &Context{
		token:    token,
		identity: identity,
		now:      time.Now,
		logger:   logging.OrNop(logger),
	}
}

// Load reads the session file at path. A missing or unreadable file yields
// an empty context rather than an error so that startup degrades to the
// unauthenticated state.
func Load(path string, logger *zap.Logger) *Context {
	c := New("", model.UserIdentity{}, logger)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to read session file", zap.String("path", path), zap.Error(err))
		}
		return c
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warn("Discarding unparseable session file", zap.String("path", path), zap.Error(err))
		return c
	}

	c.token = p.Token
	c.identity = p.User
	return c
}

// Save writes the current credential and identity to path.
func (c *Context) Save(path string) error {
	c.mu.RLock()
	p := persisted{Token: c.token, User: c.identity}
	c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Set replaces the credential and identity, e.g. after a login.
func (c *Context) Set(token string, identity model.UserIdentity) {
	c.mu.Lock()
	c.token = token
	c.identity = identity
	c.mu.Unlock()
}

// Invalidate drops the credential but keeps the identity for display.
func (c *Context) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Token returns the credential if it is present and not expired.
func (c *Context) Token() (string, bool) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if token == "" {
		return "", false
	}
	if _, err := auth.Inspect(token, c.now()); err != nil {
		c.logger.Debug("Ignoring unusable credential", zap.Error(err))
		return "", false
	}
	return token, true
}

// Identity returns the signed-in user; ok is false when none is known.
func (c *Context) Identity() (model.UserIdentity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.identity.Valid()
}

// Snapshot returns credential and identity together. ok is true only when
// both are usable.
func (c *Context) Snapshot() (string, model.UserIdentity, bool) {
	token, hasToken := c.Token()
	identity, hasIdentity := c.Identity()
	return token, identity, hasToken && hasIdentity
}
