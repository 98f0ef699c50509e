// Package config loads the service configuration from a JSON or YAML file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Queue     QueueConfig     `json:"queue"`
	Metrics   MetricsConfig   `json:"metrics"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig covers the HTTP edge: the API listener and the path the
// device websocket is mounted on.
type ServerConfig struct {
	Addr   string `json:"addr"`
	WSPath string `json:"wsPath"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "memory"
	}
}

func (c StoreConfig) Validate() error {
	switch c.Driver {
	case "memory":
		return nil
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("store: postgres driver requires a dsn")
		}
		return nil
	default:
		return fmt.Errorf("store: unknown driver %q", c.Driver)
	}
}

// QueueConfig tunes the outbound delivery queue.
type QueueConfig struct {
	RetryIntervalSeconds int `json:"retryIntervalSeconds"`
}

func (c *QueueConfig) SetDefaults() {
	if c.RetryIntervalSeconds == 0 {
		c.RetryIntervalSeconds = 1
	}
}

func (c QueueConfig) Validate() error {
	if c.RetryIntervalSeconds < 0 {
		return fmt.Errorf("queue: retryIntervalSeconds must be positive")
	}
	return nil
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
}

// TelemetryConfig controls the InfluxDB hall-reading writer.
type TelemetryConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

func (c TelemetryConfig) Validate() error {
	if c.Enabled && c.URL == "" {
		return fmt.Errorf("telemetry: enabled without a url")
	}
	return nil
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("VLM_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "vlm_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Server.SetDefaults()
	cfg.Store.SetDefaults()
	cfg.Queue.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Logging.SetDefaults()
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Queue.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
