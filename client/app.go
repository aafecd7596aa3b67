package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/mahaj/travelchat/pkg/apiclient"
	"github.com/mahaj/travelchat/pkg/channel"
	"github.com/mahaj/travelchat/pkg/config"
	"github.com/mahaj/travelchat/pkg/directory"
	"github.com/mahaj/travelchat/pkg/follow"
	"github.com/mahaj/travelchat/pkg/gate"
	"github.com/mahaj/travelchat/pkg/logging"
	"github.com/mahaj/travelchat/pkg/session"
	"go.uber.org/zap"
)

// app is the client core wired from configuration. One session context is
// shared by every component.
type app struct {
	cfg     *config.Client
	logger  *zap.Logger
	session *session.Context
	gate    *gate.Gate
	api     *apiclient.Client
	follows *follow.Client
	dir     *directory.Client
	dialer  channel.Dialer

	out *lockedWriter
}

// lockedWriter serializes output from the chat receive goroutine and the
// command goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Println(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func newApp(configPath string, dialer channel.Dialer, out io.Writer) (*app, error) {
	if configPath == "" {
		configPath = filepath.Join(config.ClientDir(), "config.yaml")
	}
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		return nil, err
	}

	policy := gate.PolicyAuthenticated
	if cfg.MutualFollow {
		policy = gate.PolicyMutualFollow
	}

	s := session.Load(cfg.SessionFile, logger)
	g := gate.New(s, policy, logger)
	api := apiclient.New(cfg.APIURL, g, logger)
	if dialer == nil {
		dialer = &channel.WebSocketDialer{URL: cfg.GatewayURL, Logger: logger}
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		session: s,
		gate:    g,
		api:     api,
		follows: follow.New(api, g, logger),
		dir:     directory.New(api, g),
		dialer:  dialer,
		out:     &lockedWriter{w: out},
	}

	g.OnChange(func(st gate.State) {
		if st != gate.Unauthenticated {
			return
		}
		if err := s.Save(cfg.SessionFile); err != nil {
			logger.Warn("Failed to persist signed-out session", zap.Error(err))
		}
		a.out.Println(renderNotice("You are signed out. Run `travelchat login <user-id>` to continue."))
	})
	return a, nil
}
