// Package config loads the transport configuration: the server endpoint
// block, the router's platform route table, and the transport tunables.
// Values come from a JSON file with environment-variable overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/zizhongfeiyang/MaiM-Connect/pkg/router"
)

// ServerConfig configures the accepting endpoint.
type ServerConfig struct {
	Host  string `json:"host" env:"MAIMCONN_HOST"`
	Port  int    `json:"port" env:"MAIMCONN_PORT"`
	Path  string `json:"path,omitempty" env:"MAIMCONN_PATH"`
	Token string `json:"token,omitempty" env:"MAIMCONN_TOKEN"`
}

// TransportConfig holds the tunables shared by clients and servers.
// Durations are in seconds; zero keeps the built-in default, a negative
// heartbeat disables it.
type TransportConfig struct {
	HeartbeatSeconds  float64 `json:"heartbeat_seconds,omitempty" env:"MAIMCONN_HEARTBEAT_SECONDS"`
	BackoffMinSeconds float64 `json:"backoff_min_seconds,omitempty" env:"MAIMCONN_BACKOFF_MIN_SECONDS"`
	BackoffMaxSeconds float64 `json:"backoff_max_seconds,omitempty" env:"MAIMCONN_BACKOFF_MAX_SECONDS"`
	QueueSize         int     `json:"queue_size,omitempty" env:"MAIMCONN_QUEUE_SIZE"`
	DrainSeconds      float64 `json:"drain_seconds,omitempty" env:"MAIMCONN_DRAIN_SECONDS"`
}

// HeartbeatInterval converts the heartbeat setting to a duration; zero means
// the default, negative disables.
func (t TransportConfig) HeartbeatInterval() time.Duration {
	if t.HeartbeatSeconds < 0 {
		return 0
	}
	if t.HeartbeatSeconds == 0 {
		return 30 * time.Second
	}
	return secondsToDuration(t.HeartbeatSeconds)
}

func (t TransportConfig) BackoffMin() time.Duration {
	return secondsToDuration(t.BackoffMinSeconds)
}

func (t TransportConfig) BackoffMax() time.Duration {
	return secondsToDuration(t.BackoffMaxSeconds)
}

func (t TransportConfig) DrainTimeout() time.Duration {
	return secondsToDuration(t.DrainSeconds)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Config is the full on-disk configuration.
type Config struct {
	Server    ServerConfig                   `json:"server"`
	Routes    map[string]router.TargetConfig `json:"route_config"`
	Transport TransportConfig                `json:"transport"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18000,
			Path: "/ws",
		},
		Routes: make(map[string]router.TargetConfig),
	}
}

// RouteConfig adapts the route table for the router.
func (c *Config) RouteConfig() router.RouteConfig {
	return router.RouteConfig{Routes: c.Routes}
}

// Load reads the config file, fills defaults, and applies environment
// overrides. A missing file yields the defaults (still env-overridable).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	if cfg.Routes == nil {
		cfg.Routes = make(map[string]router.TargetConfig)
	}
	if cfg.Server.Path == "" {
		cfg.Server.Path = "/ws"
	}
	return cfg, nil
}

// Save writes the config back to disk, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
