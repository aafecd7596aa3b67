package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mahaj/travelchat/pkg/config"
	"github.com/mahaj/travelchat/pkg/db"
	"github.com/mahaj/travelchat/pkg/logging"
	"go.uber.org/zap"
)

const groupID = "messaging-service-group"

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Connect to system keyspace to create the chat keyspace
	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system", logger)
	if err != nil {
		logger.Fatal("Failed to connect to ScyllaDB system keyspace", zap.Error(err))
	}
	if err := db.CreateKeyspace(sysSession, cfg.Keyspace); err != nil {
		logger.Fatal("Failed to create keyspace", zap.Error(err))
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		logger.Fatal("Failed to connect to ScyllaDB chat keyspace", zap.Error(err))
	}
	defer session.Close()

	if err := db.CreateSchema(session); err != nil {
		logger.Fatal("Failed to create schema", zap.Error(err))
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, groupID, db.NewMessageStore(session), logger)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting Kafka Consumer", zap.String("topic", cfg.KafkaTopic))
	if err := consumer.Consume(ctx); err != nil {
		logger.Error("Consumer stopped", zap.Error(err))
	}
}
