package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("ENV", "")
	cfg := Load()
	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, "chat-messages", cfg.KafkaTopic)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SCYLLA_HOSTS", "s1")
	t.Setenv("JWT_SECRET", "s3cret")
	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"s1"}, cfg.ScyllaHosts)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoad_GatewayID(t *testing.T) {
	t.Setenv("GATEWAY_ID", "")
	first, second := Load(), Load()
	assert.NotEmpty(t, first.GatewayID)
	assert.Equal(t, first.GatewayID, second.GatewayID, "the default must not change between loads")

	t.Setenv("GATEWAY_ID", "gw-eu-1")
	assert.Equal(t, "gw-eu-1", Load().GatewayID)
}

func TestLoad_ProductionNeedsSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")
	assert.Panics(t, func() { Load() })
}

func TestLoadClient(t *testing.T) {
	t.Setenv("TRAVELCHAT_API_URL", "")
	t.Setenv("TRAVELCHAT_GATEWAY_URL", "")

	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadClient(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8081", cfg.APIURL)
	})

	t.Run("file values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("api_url: http://api.example\nmutual_follow: true\n"), 0o600))
		cfg, err := LoadClient(path)
		require.NoError(t, err)
		assert.Equal(t, "http://api.example", cfg.APIURL)
		assert.Equal(t, "ws://localhost:8080/ws", cfg.GatewayURL)
		assert.True(t, cfg.MutualFollow)
	})

	t.Run("env wins", func(t *testing.T) {
		t.Setenv("TRAVELCHAT_GATEWAY_URL", "ws://gw.example/ws")
		cfg, err := LoadClient(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "ws://gw.example/ws", cfg.GatewayURL)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("api_url: [unterminated"), 0o600))
		_, err := LoadClient(path)
		assert.Error(t, err)
	})
}
