package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for the relay.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Session   SessionConfig   `koanf:"session"`
	Schema    SchemaConfig    `koanf:"schema"`
	Redis     RedisConfig     `koanf:"redis"`
	Archive   ArchiveConfig   `koanf:"archive"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Providers ProvidersConfig `koanf:"providers"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // "debug" or "release"
}

// PipelineConfig tunes the event pipeline.
type PipelineConfig struct {
	Source        string `koanf:"source"`          // Metadata.Source stamp
	PendingMaxAge string `koanf:"pending_max_age"` // parsed as time.Duration
	EventLogLimit int    `koanf:"event_log_limit"`
}

// SessionConfig tunes session identity.
type SessionConfig struct {
	TTL string `koanf:"ttl"` // sliding inactivity window, parsed as time.Duration
}

// SchemaConfig holds settings for schema management.
type SchemaConfig struct {
	SourceType string `koanf:"source_type"` // "builtin" or "filesystem"
	Path       string `koanf:"path"`
}

// RedisConfig selects the backing store for sessions and pending queues.
// Disabled means in-memory stores, which do not survive a restart.
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// ArchiveConfig holds the delivered-event archive database settings.
type ArchiveConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// KafkaConfig holds the optional Kafka action source.
type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	GroupID string   `koanf:"group_id"`
}

// ProvidersConfig holds the per-destination adapter settings.
type ProvidersConfig struct {
	GTM          GTMConfig          `koanf:"gtm"`
	Facebook     FacebookConfig     `koanf:"facebook"`
	RudderStack  RudderStackConfig  `koanf:"rudderstack"`
	NextCampaign NextCampaignConfig `koanf:"next_campaign"`
	Custom       CustomConfig       `koanf:"custom"`
}

// GTMConfig configures the tag-manager adapter.
type GTMConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ForwardURL string `koanf:"forward_url"`
}

// FacebookConfig configures the Conversions API adapter.
type FacebookConfig struct {
	Enabled      bool   `koanf:"enabled"`
	PixelID      string `koanf:"pixel_id"`
	AccessToken  string `koanf:"access_token"`
	StoreName    string `koanf:"store_name"`
	Endpoint     string `koanf:"endpoint"`
	ReadyTimeout string `koanf:"ready_timeout"` // parsed as time.Duration
}

// RudderStackConfig configures the RudderStack adapter.
type RudderStackConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DataPlaneURL string `koanf:"data_plane_url"`
	WriteKey     string `koanf:"write_key"`
	ReadyTimeout string `koanf:"ready_timeout"`
}

// NextCampaignConfig configures the campaign-tracking adapter.
type NextCampaignConfig struct {
	Enabled  bool   `koanf:"enabled"`
	APIKey   string `koanf:"api_key"`
	Endpoint string `koanf:"endpoint"`
}

// CustomConfig configures the batching webhook adapter.
type CustomConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Endpoint      string `koanf:"endpoint"`
	BatchSize     int    `koanf:"batch_size"`
	FlushInterval string `koanf:"flush_interval"`
	MaxAttempts   int    `koanf:"max_attempts"`
	RetryDelay    string `koanf:"retry_delay"`
}

// Load loads the configuration from the given file path and environment
// variables. RELAY_SERVER__PORT=9090 overrides server.port.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                     8080,
		"server.host":                     "0.0.0.0",
		"server.max_body_size_mb":         1,
		"server.mode":                     "release",
		"pipeline.source":                 "storefront",
		"pipeline.pending_max_age":        "5m",
		"pipeline.event_log_limit":        500,
		"session.ttl":                     "30m",
		"schema.source_type":              "builtin",
		"schema.path":                     "./schemas",
		"redis.enabled":                   false,
		"redis.addr":                      "localhost:6379",
		"redis.db":                        0,
		"archive.enabled":                 false,
		"archive.max_open_conns":          25,
		"archive.max_idle_conns":          25,
		"archive.auto_migrate":            true,
		"kafka.enabled":                   false,
		"kafka.topic":                     "storefront-actions",
		"kafka.group_id":                  "relay",
		"providers.gtm.enabled":           true,
		"providers.custom.batch_size":     10,
		"providers.custom.flush_interval": "5s",
		"providers.custom.max_attempts":   3,
		"providers.custom.retry_delay":    "2s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("RELAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "RELAY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot run with. Provider
// credential gaps are not errors here: adapters degrade to skips on their
// own and a half-configured destination must not stop the others.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("server.mode must be \"debug\" or \"release\", got %q", c.Server.Mode)
	}
	if c.Schema.SourceType != "builtin" && c.Schema.SourceType != "filesystem" {
		return fmt.Errorf("schema.source_type must be \"builtin\" or \"filesystem\", got %q", c.Schema.SourceType)
	}
	if c.Schema.SourceType == "filesystem" && c.Schema.Path == "" {
		return fmt.Errorf("schema.path is required for the filesystem schema source")
	}
	if c.Archive.Enabled && c.Archive.DSN == "" {
		return fmt.Errorf("archive.dsn is required when the archive is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when the kafka source is enabled")
	}

	for _, d := range []struct{ key, value string }{
		{"pipeline.pending_max_age", c.Pipeline.PendingMaxAge},
		{"session.ttl", c.Session.TTL},
		{"providers.custom.flush_interval", c.Providers.Custom.FlushInterval},
		{"providers.custom.retry_delay", c.Providers.Custom.RetryDelay},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", d.key, d.value)
		}
	}
	return nil
}

// Duration parses a duration config value, falling back when it is empty
// or invalid. Validate has already rejected invalid values loaded through
// Load; the fallback covers hand-built configs in tests.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
