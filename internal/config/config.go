// Package config handles loading, validating, and defaulting Spyglass
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Exporter type constants.
const (
	ExporterJSONL   = "jsonl"
	ExporterConsole = "console"
	ExporterSQLite  = "sqlite"
)

// Drop policy constants.
const (
	DropNewest = "newest"
	DropOldest = "oldest"
)

// Logging defaults.
const (
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
)

// DefaultMetricsListen is the default address for the metrics endpoint.
const DefaultMetricsListen = "127.0.0.1:9464"

// Config is the top-level Spyglass configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Collector CollectorConfig `yaml:"collector"`
	Exporter  ExporterConfig  `yaml:"exporter"`
	HTTP      HTTPAdapter     `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CollectorConfig bounds the in-memory queue and flush scheduling.
type CollectorConfig struct {
	QueueSize           int    `yaml:"queue_size"`
	FlushIntervalMS     int    `yaml:"flush_interval_ms"`
	BatchMax            int    `yaml:"batch_max"`
	DropPolicy          string `yaml:"drop_policy"` // newest, oldest
	CloseTimeoutSeconds int    `yaml:"close_timeout_seconds"`
}

// FlushInterval returns the flush interval as a duration.
func (c CollectorConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// CloseTimeout returns the shutdown drain timeout as a duration.
func (c CollectorConfig) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutSeconds) * time.Second
}

// ExporterConfig selects and configures the sink implementation.
type ExporterConfig struct {
	Type    string        `yaml:"type"` // jsonl, console, sqlite
	JSONL   JSONLConfig   `yaml:"jsonl"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
	Console ConsoleConfig `yaml:"console"`
}

// JSONLConfig configures the rotating JSONL file exporter.
type JSONLConfig struct {
	Dir           string `yaml:"dir"`
	RotateBytes   int64  `yaml:"rotate_bytes"`
	RotateSeconds int    `yaml:"rotate_seconds"`
}

// RotateAge returns the segment age limit as a duration.
func (c JSONLConfig) RotateAge() time.Duration {
	return time.Duration(c.RotateSeconds) * time.Second
}

// SQLiteConfig configures the SQLite exporter.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ConsoleConfig configures the console exporter.
type ConsoleConfig struct {
	Pretty bool `yaml:"pretty"`
}

// HTTPAdapter configures the HTTP middleware's sampling behavior.
type HTTPAdapter struct {
	SamplingRate       *float64 `yaml:"sampling_rate"`        // nil = 1.0
	RouteExcludes      []string `yaml:"route_excludes"`       // path prefixes to skip
	AlwaysSampleErrors *bool    `yaml:"always_sample_errors"` // nil = true
}

// SamplingRateValue returns the configured rate, defaulting to 1.0.
func (h HTTPAdapter) SamplingRateValue() float64 {
	if h.SamplingRate == nil {
		return 1.0
	}
	return *h.SamplingRate
}

// AlwaysSampleErrorsEnabled returns whether error requests bypass
// sampling. Defaults to true when not set in config.
func (h HTTPAdapter) AlwaysSampleErrorsEnabled() bool {
	return h.AlwaysSampleErrors == nil || *h.AlwaysSampleErrors
}

// LoggingConfig configures pipeline diagnostics logging.
type LoggingConfig struct {
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, file, both
	File   string `yaml:"file"`
}

// MetricsConfig configures the Prometheus/stats HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads, parses, defaults, and validates a Spyglass config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	// Resolve relative output paths against the config file directory.
	dir := filepath.Dir(path)
	if cfg.Exporter.JSONL.Dir != "" && !filepath.IsAbs(cfg.Exporter.JSONL.Dir) {
		cfg.Exporter.JSONL.Dir = filepath.Join(dir, cfg.Exporter.JSONL.Dir)
	}
	if cfg.Exporter.SQLite.Path != "" && !filepath.IsAbs(cfg.Exporter.SQLite.Path) {
		cfg.Exporter.SQLite.Path = filepath.Join(dir, cfg.Exporter.SQLite.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a fully defaulted configuration.
func Defaults() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Collector.QueueSize <= 0 {
		c.Collector.QueueSize = 1024
	}
	if c.Collector.FlushIntervalMS <= 0 {
		c.Collector.FlushIntervalMS = 200
	}
	if c.Collector.BatchMax <= 0 {
		c.Collector.BatchMax = 256
	}
	if c.Collector.DropPolicy == "" {
		c.Collector.DropPolicy = DropNewest
	}
	if c.Collector.CloseTimeoutSeconds <= 0 {
		c.Collector.CloseTimeoutSeconds = 5
	}
	if c.Exporter.Type == "" {
		c.Exporter.Type = ExporterJSONL
	}
	if c.Exporter.JSONL.Dir == "" {
		c.Exporter.JSONL.Dir = "telemetry"
	}
	if c.Exporter.JSONL.RotateBytes <= 0 {
		c.Exporter.JSONL.RotateBytes = 8 << 20
	}
	if c.Exporter.JSONL.RotateSeconds <= 0 {
		c.Exporter.JSONL.RotateSeconds = 300
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
}

// Validate checks the configuration for contradictions and bad values.
func (c *Config) Validate() error {
	switch c.Exporter.Type {
	case ExporterJSONL, ExporterConsole, ExporterSQLite:
	default:
		return fmt.Errorf("exporter.type must be one of %s, %s, %s; got %q",
			ExporterJSONL, ExporterConsole, ExporterSQLite, c.Exporter.Type)
	}

	if c.Exporter.Type == ExporterSQLite && c.Exporter.SQLite.Path == "" {
		return fmt.Errorf("exporter.sqlite.path is required when exporter.type is %s", ExporterSQLite)
	}

	switch c.Collector.DropPolicy {
	case DropNewest, DropOldest:
	default:
		return fmt.Errorf("collector.drop_policy must be %q or %q; got %q",
			DropNewest, DropOldest, c.Collector.DropPolicy)
	}

	if rate := c.HTTP.SamplingRateValue(); rate < 0 || rate > 1 {
		return fmt.Errorf("http.sampling_rate must be in [0, 1]; got %v", rate)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text; got %q", c.Logging.Format)
	}

	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("logging.output must be stdout, file, or both; got %q", c.Logging.Output)
	}

	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when logging.output is %q", c.Logging.Output)
	}

	return nil
}
