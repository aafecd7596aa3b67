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
	"github.com/mahaj/travelchat/pkg/snowflake"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Server, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return err
	}

	state := newRedisState(cfg.RedisAddr)
	defer state.Close()
	publisher := newKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	hub := NewHub(db.NewMessageStore(session), publisher, state, node, logger)
	issuer := auth.NewIssuer(cfg.JWTSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(ctx, hub, issuer, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return newFanout(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.GatewayID, hub, logger).Run(ctx)
	})
	g.Go(func() error {
		logger.Info("Gateway Service Starting", zap.String("addr", cfg.GatewayAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
