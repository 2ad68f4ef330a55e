package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"gopkg.in/yaml.v3"
)

// SourceConfig holds source configuration
type SourceConfig struct {
	Spec string `yaml:"spec"`
}

// SinkConfig holds sink configuration
type SinkConfig struct {
	Spec         string  `yaml:"spec"`
	SegmentSize  int64   `yaml:"segment_size"`
	SyncWrites   bool    `yaml:"sync_writes"`
	MaxDiskUsage float64 `yaml:"max_disk_usage_percent"`
}

// BatchConfig bounds the batches a source produces
type BatchConfig struct {
	MaxSize  int `yaml:"max_size"`
	MaxBytes int `yaml:"max_bytes"`
}

// FilterConfig restricts which records are transferred
type FilterConfig struct {
	ID  *int   `yaml:"id"`
	Key string `yaml:"key"`
}

// TransferConfig holds pump configuration
type TransferConfig struct {
	Workers         int           `yaml:"workers"`
	DryRun          bool          `yaml:"dry_run"`
	ReportDot       int           `yaml:"report_dot"`
	ReportFull      int           `yaml:"report_full"`
	VersionPolicy   string        `yaml:"version_policy"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for a transfer
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Sink     SinkConfig     `yaml:"sink"`
	Batch    BatchConfig    `yaml:"batch"`
	Filter   FilterConfig   `yaml:"filter"`
	Transfer TransferConfig `yaml:"transfer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.InvalidArgument("failed to read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.InvalidArgument("failed to parse config file", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Batch.MaxSize == 0 {
		cfg.Batch.MaxSize = 1000
	}
	if cfg.Batch.MaxBytes == 0 {
		cfg.Batch.MaxBytes = 400000
	}
	if cfg.Transfer.Workers == 0 {
		cfg.Transfer.Workers = 1
	}
	if cfg.Transfer.ReportDot == 0 {
		cfg.Transfer.ReportDot = 50
	}
	if cfg.Transfer.ReportFull == 0 {
		cfg.Transfer.ReportFull = 2000
	}
	if cfg.Transfer.VersionPolicy == "" {
		cfg.Transfer.VersionPolicy = "all"
	}
	if cfg.Transfer.ShutdownTimeout == 0 {
		cfg.Transfer.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9095
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Batch.MaxSize < 1 {
		return errors.InvalidArgument("batch.max_size must be positive", nil)
	}
	if c.Batch.MaxBytes < 1 {
		return errors.InvalidArgument("batch.max_bytes must be positive", nil)
	}
	if c.Filter.ID != nil && (*c.Filter.ID < 0 || *c.Filter.ID > 0xFFFF) {
		return errors.InvalidArgument("filter.id must be between 0 and 65535", nil)
	}
	if c.Sink.MaxDiskUsage < 0 || c.Sink.MaxDiskUsage > 100 {
		return errors.InvalidArgument("sink.max_disk_usage_percent must be between 0 and 100", nil)
	}
	if c.Transfer.Workers < 1 {
		return errors.InvalidArgument("transfer.workers must be positive", nil)
	}
	if c.Transfer.ReportDot < 1 || c.Transfer.ReportFull < 1 {
		return errors.InvalidArgument("transfer.report_dot and transfer.report_full must be positive", nil)
	}
	switch c.Transfer.VersionPolicy {
	case "all", "max":
	default:
		return errors.InvalidArgument(fmt.Sprintf("transfer.version_policy must be all or max, got %q", c.Transfer.VersionPolicy), nil)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return errors.InvalidArgument("metrics.port must be between 0 and 65535", nil)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return errors.InvalidArgument(fmt.Sprintf("logging.format must be json or console, got %q", c.Logging.Format), nil)
	}
	if c.Source.Spec != "" && c.Source.Spec == c.Sink.Spec {
		return errors.InvalidArgument("source and destination are the same; please use different source and destination", nil)
	}
	return nil
}

// extraOption is one uncommon tunable settable with -x
type extraOption struct {
	help string
	get  func(c *Config) int
	set  func(c *Config, v int)
}

var extraOptions = map[string]extraOption{
	"batch_max_size": {
		help: "max # items per batch",
		get:  func(c *Config) int { return c.Batch.MaxSize },
		set:  func(c *Config, v int) { c.Batch.MaxSize = v },
	},
	"batch_max_bytes": {
		help: "max # of item value bytes per batch",
		get:  func(c *Config) int { return c.Batch.MaxBytes },
		set:  func(c *Config, v int) { c.Batch.MaxBytes = v },
	},
	"report_dot": {
		help: "# batches before emitting a progress line at debug level",
		get:  func(c *Config) int { return c.Transfer.ReportDot },
		set:  func(c *Config, v int) { c.Transfer.ReportDot = v },
	},
	"report_full": {
		help: "# batches before emitting progress info",
		get:  func(c *Config) int { return c.Transfer.ReportFull },
		set:  func(c *Config, v int) { c.Transfer.ReportFull = v },
	},
}

// ApplyExtra applies comma-separated key=val pairs, then re-validates
func (c *Config) ApplyExtra(extra string) error {
	for _, kv := range strings.Split(extra, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}

		key, value, _ := strings.Cut(kv, "=")
		opt, ok := extraOptions[key]
		if !ok {
			return errors.InvalidArgument(fmt.Sprintf("unknown extra option: %s", key), nil)
		}

		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.InvalidArgument(fmt.Sprintf("extra option %s needs an integer, got %q", key, value), err)
		}
		opt.set(c, n)
	}
	return c.Validate()
}

// ExtraHelp describes every -x option with its current value
func (c *Config) ExtraHelp() string {
	keys := make([]string, 0, len(extraOptions))
	for k := range extraOptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		opt := extraOptions[k]
		parts = append(parts, fmt.Sprintf("%s=%d (%s)", k, opt.get(c), opt.help))
	}
	return "Available extra config parameters (-x): " + strings.Join(parts, "; ")
}
