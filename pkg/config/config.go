// Package config loads service settings from the environment and client
// settings from a YAML file.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Server holds the settings shared by the gateway, API and messaging services.
type Server struct {
	Env          string
	LogLevel     string
	GatewayAddr  string
	APIAddr      string
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
	ScyllaHosts  []string
	Keyspace     string
	JWTSecret    string
	NodeID       int64
	// GatewayID names this gateway instance. It must stay the same across
	// restarts of one instance and differ between instances.
	GatewayID string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() *Server {
	_ = godotenv.Load()

	cfg := &Server{
		Env:          getEnv("ENV", "development"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		GatewayAddr:  getEnv("GATEWAY_ADDR", ":8080"),
		APIAddr:      getEnv("API_ADDR", ":8081"),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:19092")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "chat-messages"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		ScyllaHosts:  splitList(getEnv("SCYLLA_HOSTS", "localhost:9042")),
		Keyspace:     getEnv("SCYLLA_KEYSPACE", "chat"),
		JWTSecret:    getEnv("JWT_SECRET", "my_secret_key"),
		NodeID:       1,
		GatewayID:    getEnv("GATEWAY_ID", hostname()),
	}

	if cfg.Env == "production" && os.Getenv("JWT_SECRET") == "" {
		panic("JWT_SECRET is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Server) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "gateway"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
