package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Backend   BackendConfig   `yaml:"backend"`
	Execution ExecutionConfig `yaml:"execution"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Logging   LoggingConfig   `yaml:"logging"`
	Events    EventsConfig    `yaml:"events"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds database connection settings. An empty URL keeps
// everything in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// BackendConfig points at the external execution service.
type BackendConfig struct {
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`  // per request (default: 30s)
	Simulate bool          `yaml:"simulate"` // use the built-in simulator instead of URL
}

// ExecutionConfig tunes status polling and concurrency.
type ExecutionConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`     // default: 2s
	MaxPollInterval time.Duration `yaml:"max_poll_interval"` // backoff ceiling (default: 30s)
	MaxAttempts     int           `yaml:"max_attempts"`      // poll budget (default: 600)
	GlobalMax       int           `yaml:"global_max"`        // concurrent executions system-wide (default: 10)
}

// CatalogConfig selects the node-type catalog. An empty path uses the
// built-in catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// EventsConfig controls the per-execution event buffer.
type EventsConfig struct {
	TTL time.Duration `yaml:"ttl"` // how long finished executions stay replayable (default: 10m)
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Backend: BackendConfig{
			URL:     "http://localhost:8188",
			Timeout: 30 * time.Second,
		},
		Execution: ExecutionConfig{
			PollInterval:    2 * time.Second,
			MaxPollInterval: 30 * time.Second,
			MaxAttempts:     600,
			GlobalMax:       10,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Events:  EventsConfig{TTL: 10 * time.Minute},
	}
}

// Load reads a YAML configuration file at path and returns a Config with
// environment overrides applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads ".env" into the environment when present, then tries
// "config.yaml" from the current directory. If the file does not exist, it
// returns defaults with environment overrides applied.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = defaults()
			return cfg, cfg.applyEnv()
		}
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with NODEFLOW_* and DATABASE_URL.
func (c *Config) applyEnv() error {
	if v := os.Getenv("NODEFLOW_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("NODEFLOW_BACKEND_TOKEN"); v != "" {
		c.Backend.Token = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("NODEFLOW_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NODEFLOW_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
