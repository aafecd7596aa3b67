package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Client holds CLI settings.
type Client struct {
	APIURL      string `yaml:"api_url"`
	GatewayURL  string `yaml:"gateway_url"`
	SessionFile string `yaml:"session_file"`
	LogLevel    string `yaml:"log_level"`

	// MutualFollow restricts chat to users who follow each other.
	MutualFollow bool `yaml:"mutual_follow"`
}

// ClientDir returns ~/.travelchat, or TRAVELCHAT_HOME when set.
func ClientDir() string {
	if dir := os.Getenv("TRAVELCHAT_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".travelchat")
}

func DefaultClient() *Client {
	return &Client{
		APIURL:      "http://localhost:8081",
		GatewayURL:  "ws://localhost:8080/ws",
		SessionFile: filepath.Join(ClientDir(), "session.json"),
		LogLevel:    "warn",
	}
}

// LoadClient reads the YAML file at path over the defaults. A missing file
// is not an error. TRAVELCHAT_API_URL and TRAVELCHAT_GATEWAY_URL override
// the file.
func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.APIURL = getEnv("TRAVELCHAT_API_URL", cfg.APIURL)
	cfg.GatewayURL = getEnv("TRAVELCHAT_GATEWAY_URL", cfg.GatewayURL)
	return cfg, nil
}
