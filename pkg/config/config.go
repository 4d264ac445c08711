// Package config loads and validates the manager configuration and the
// resolution rules file. Configuration is plain YAML validated with
// struct tags; the rules file can be hot-reloaded while the manager is
// running.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level manager configuration.
type Config struct {
	// Server configures the REST API.
	Server ServerConfig `yaml:"server"`

	// Catalog configures the local artifact catalog.
	Catalog CatalogConfig `yaml:"catalog"`

	// Marketplace configures the external plugins marketplace.
	Marketplace MarketplaceConfig `yaml:"marketplace"`

	// Resolver configures the import resolution engine.
	Resolver ResolverConfig `yaml:"resolver"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the REST API server.
type ServerConfig struct {
	// ListenAddress is the host:port the API listens on.
	ListenAddress string `yaml:"listen_address" validate:"required,hostname_port"`

	// CORSAllowedOrigins lists origins allowed to call the API from a
	// browser. Empty disables CORS headers.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// ReadTimeout bounds request reading.
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout bounds response writing.
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

// CatalogConfig configures the local artifact catalog.
type CatalogConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required"`

	// FileServerRoot is the directory plugin and blueprint payloads are
	// stored under and served from.
	FileServerRoot string `yaml:"file_server_root" validate:"required"`

	// Distribution is the manager host's distribution, used as the
	// default wagon target when an import requests none.
	Distribution string `yaml:"distribution"`

	// DistroRelease is the manager host's distribution release.
	DistroRelease string `yaml:"distro_release"`

	// MaxConnections caps the database connection pool.
	MaxConnections int `yaml:"max_connections" validate:"gte=1"`
}

// MarketplaceConfig configures the external plugins marketplace.
type MarketplaceConfig struct {
	// BaseURL is the marketplace API root. Empty disables marketplace
	// lookups; catalog misses then fail as not-found.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Timeout bounds each marketplace HTTP call.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ResolverConfig configures the import resolution engine.
type ResolverConfig struct {
	// RulesFile is the YAML file holding pin mappings and version
	// constraints. Empty means no rules.
	RulesFile string `yaml:"rules_file"`

	// WatchRules enables hot-reloading of the rules file.
	WatchRules bool `yaml:"watch_rules"`

	// PollInterval is the wait between upload-conflict poll attempts.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`

	// PollAttempts bounds the upload-conflict poll loop.
	PollAttempts int `yaml:"poll_attempts" validate:"gte=0"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json output.
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`

	// MetricsEnabled controls the Prometheus endpoint.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsListenAddress is the metrics endpoint address.
	MetricsListenAddress string `yaml:"metrics_listen_address"`

	// TracingEnabled controls trace export.
	TracingEnabled bool `yaml:"tracing_enabled"`

	// TracingExporter selects the exporter (otlp, stdout, none).
	TracingExporter string `yaml:"tracing_exporter" validate:"oneof=otlp stdout none"`

	// TracingEndpoint is the OTLP collector endpoint.
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:8080",
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  60 * time.Second,
		},
		Catalog: CatalogConfig{
			Path:           "manager.db",
			FileServerRoot: "fileserver",
			MaxConnections: 4,
		},
		Marketplace: MarketplaceConfig{
			Timeout: 60 * time.Second,
		},
		Resolver: ResolverConfig{
			PollInterval: time.Second,
			PollAttempts: 120,
		},
		Telemetry: TelemetryConfig{
			LogLevel:             "info",
			LogFormat:            "console",
			MetricsEnabled:       true,
			MetricsListenAddress: ":9090",
			TracingEnabled:       false,
			TracingExporter:      "stdout",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults and
// validates the result. An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
