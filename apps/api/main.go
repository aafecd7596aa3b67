package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/travelchat/pkg/auth"
	"github.com/mahaj/travelchat/pkg/config"
	"github.com/mahaj/travelchat/pkg/db"
	"github.com/mahaj/travelchat/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		logger.Fatal("Failed to connect to ScyllaDB", zap.Error(err))
	}
	defer session.Close()

	presence := newRedisPresence(cfg.RedisAddr)
	defer presence.Close()

	users := db.NewUserStore(session)
	issuer := auth.NewIssuer(cfg.JWTSecret)
	router := NewRouter(
		NewHandler(users, db.NewFollowStore(session, users), issuer, logger),
		NewPresenceHandler(presence, logger),
		issuer,
		logger,
	)

	srv := &http.Server{Addr: cfg.APIAddr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("API Service Starting", zap.String("addr", cfg.APIAddr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("API stopped", zap.Error(err))
	}
}
