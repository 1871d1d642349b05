package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all process settings. Values come from defaults, overridden
// by SLIDECAST_* environment variables (a .env file is honored if present).
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	WebSocket WebSocketConfig
	Activity  ActivityConfig
}

// HTTPConfig holds server settings.
type HTTPConfig struct {
	Host         string        `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds SQLite settings. Timeout is the deadline applied to
// every store call; a store that exceeds it is treated as failed.
type DatabaseConfig struct {
	Path    string        `envconfig:"DATABASE_PATH" default:"./slidecast.db"`
	Timeout time.Duration `envconfig:"DATABASE_TIMEOUT" default:"5s"`
}

// WebSocketConfig holds connection keepalive settings.
type WebSocketConfig struct {
	PingInterval time.Duration `envconfig:"WEBSOCKET_PING_INTERVAL" default:"30s"`
	ReadTimeout  time.Duration `envconfig:"WEBSOCKET_READ_TIMEOUT" default:"60s"`
	WriteTimeout time.Duration `envconfig:"WEBSOCKET_WRITE_TIMEOUT" default:"10s"`
}

// ActivityConfig holds lifecycle timing. AutoStartDelay is the pause
// between a slide change and the auto-start of the slide's anchored
// activity, giving clients time to clear their view.
type ActivityConfig struct {
	AutoStartDelay time.Duration `envconfig:"ACTIVITY_AUTO_START_DELAY" default:"500ms"`
}

// DefaultConfig returns the built-in defaults without reading the
// environment.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:    "./slidecast.db",
			Timeout: 5 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Activity: ActivityConfig{
			AutoStartDelay: 500 * time.Millisecond,
		},
	}
}

// Load builds the configuration from defaults, .env and the environment.
func Load() (*Config, error) {
	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("slidecast", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket intervals must be positive")
	}
	if c.Activity.AutoStartDelay < 0 {
		return fmt.Errorf("activity auto-start delay cannot be negative")
	}
	return nil
}
