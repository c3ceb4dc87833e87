// Package config handles TOML configuration for Vigil.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/vigil/internal/filter"
	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

// Config is the root configuration structure.
type Config struct {
	AWS    AWSConfig    `toml:"aws"`
	Scan   ScanConfig   `toml:"scan"`
	Daemon DaemonConfig `toml:"daemon"`
	OTEL   OTELConfig   `toml:"otel"`
	Log    LogConfig    `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region  string `toml:"region"`
	Profile string `toml:"profile"`
}

// ScanConfig holds scan settings.
type ScanConfig struct {
	Kinds           []string      `toml:"kinds"`
	ExcludeKinds    []string      `toml:"exclude_kinds"`
	ExcludePrefixes []string      `toml:"exclude_prefixes"`
	Mode            string        `toml:"mode"`
	RetentionDays   int           `toml:"retention_days"`
	PageTimeoutStr  string        `toml:"page_timeout"`
	PageTimeout     time.Duration `toml:"-"`
	MaxAttempts     int           `toml:"max_attempts"`
	Concurrency     int           `toml:"concurrency"`
}

// DaemonConfig holds settings for continuous scanning.
type DaemonConfig struct {
	IntervalStr string        `toml:"interval"`
	Interval    time.Duration `toml:"-"`
	MetricsAddr string        `toml:"metrics_addr"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled    bool `toml:"enabled"`
	Prometheus bool `toml:"prometheus"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if len(cfg.Scan.Kinds) == 0 {
		for _, k := range resource.Kinds() {
			cfg.Scan.Kinds = append(cfg.Scan.Kinds, string(k))
		}
	}
	if cfg.Scan.Mode == "" {
		cfg.Scan.Mode = string(compliance.ModeReportOnly)
	}
	if cfg.Scan.RetentionDays == 0 {
		cfg.Scan.RetentionDays = 30
	}
	if cfg.Scan.PageTimeoutStr == "" {
		cfg.Scan.PageTimeoutStr = "30s"
	}
	if cfg.Scan.MaxAttempts == 0 {
		cfg.Scan.MaxAttempts = 3
	}
	if cfg.Scan.Concurrency == 0 {
		cfg.Scan.Concurrency = 1
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "15m"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9090"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "vigil"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Scan.PageTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse page_timeout %q: %w", cfg.Scan.PageTimeoutStr, err)
	}
	cfg.Scan.PageTimeout = d

	d, err = time.ParseDuration(cfg.Daemon.IntervalStr)
	if err != nil {
		return fmt.Errorf("parse interval %q: %w", cfg.Daemon.IntervalStr, err)
	}
	cfg.Daemon.Interval = d
	return nil
}

// Filter builds the resource filter described by the scan section.
func (c *Config) Filter() *filter.Filter {
	return filter.New(c.Scan.ExcludeKinds, c.Scan.ExcludePrefixes)
}

// ScanKinds returns the configured kinds, deduplicated, minus the excluded ones.
func (c *Config) ScanKinds() ([]resource.Kind, error) {
	var kinds []resource.Kind
	seen := make(map[resource.Kind]bool)
	for _, name := range c.Scan.Kinds {
		k := resource.Kind(name)
		if !k.Valid() {
			return nil, &compliance.ConfigurationError{Reason: fmt.Sprintf("scan: unknown kind %q", name)}
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return c.Filter().FilterKinds(kinds), nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return &compliance.ConfigurationError{Reason: "aws: region required"}
	}
	kinds, err := c.ScanKinds()
	if err != nil {
		return err
	}
	if len(kinds) == 0 {
		return &compliance.ConfigurationError{Reason: "scan: no resource kinds selected"}
	}
	if _, err := compliance.ParseMode(c.Scan.Mode); err != nil {
		return err
	}
	if c.Scan.RetentionDays < 1 {
		return &compliance.ConfigurationError{Reason: fmt.Sprintf("scan: retention_days must be positive (got %d)", c.Scan.RetentionDays)}
	}
	if c.Scan.PageTimeout <= 0 {
		return &compliance.ConfigurationError{Reason: "scan: page_timeout must be positive"}
	}
	if c.Scan.Concurrency < 1 {
		return &compliance.ConfigurationError{Reason: fmt.Sprintf("scan: concurrency must be at least 1 (got %d)", c.Scan.Concurrency)}
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return &compliance.ConfigurationError{Reason: fmt.Sprintf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)}
	}
	return nil
}
