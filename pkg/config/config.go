// Package config holds the settings of an open gojolite data file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sushant-115/gojolite/pkg/logger"
	"github.com/sushant-115/gojolite/pkg/telemetry"
)

const (
	DefaultTimeout   = time.Minute
	DefaultCacheSize = 5000
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full configuration of an engine.
type Config struct {
	// Filename is the path of the data file. It is created when missing.
	Filename string `yaml:"filename"`
	// Timeout bounds the wait for the file lock held by another process.
	Timeout time.Duration `yaml:"timeout"`
	// JournalEnabled writes a journal before every commit so a crash in the
	// middle of a write can be repaired on the next open.
	JournalEnabled bool `yaml:"journal"`
	// CacheSize is the number of pages kept between transactions.
	CacheSize int `yaml:"cache_size"`
	// Collation orders string keys, e.g. "en" or "en/IgnoreCase". It is only
	// used when a file is created; afterwards the file's collation wins.
	Collation string `yaml:"collation"`
	ReadOnly  bool   `yaml:"read_only"`

	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used for fields a connection string or
// YAML file does not set.
func Default() Config {
	return Config{
		Timeout:        DefaultTimeout,
		JournalEnabled: true,
		CacheSize:      DefaultCacheSize,
		Logger:         logger.Config{Disabled: true},
	}
}

// Validate checks the values that have no usable fallback.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidConfig)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout %s is negative", ErrInvalidConfig, c.Timeout)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cache size %d is negative", ErrInvalidConfig, c.CacheSize)
	}
	return nil
}

// Load reads a YAML configuration file on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}

	// A logger section turns logging on unless it says otherwise.
	var probe struct {
		Logger struct {
			Disabled *bool `yaml:"disabled"`
		} `yaml:"logger"`
	}
	_ = yaml.Unmarshal(data, &probe)
	if probe.Logger.Disabled == nil && cfg.Logger != (logger.Config{Disabled: true}) {
		cfg.Logger.Disabled = false
	}
	return cfg, cfg.Validate()
}

// ParseConnectionString reads "key=value" pairs separated by ';'. A string
// without '=' is taken as the filename. Keys are case-insensitive:
//
//	filename=app.db; timeout=30s; journal=false; cache size=1000;
//	collation=en/IgnoreCase; readonly=true; log level=debug
func ParseConnectionString(s string) (Config, error) {
	cfg := Default()
	if !strings.Contains(s, "=") {
		cfg.Filename = strings.TrimSpace(s)
		return cfg, cfg.Validate()
	}

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return cfg, fmt.Errorf("%w: %q is not key=value", ErrInvalidConfig, part)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "filename", "file", "data source":
			cfg.Filename = value
		case "timeout":
			cfg.Timeout, err = parseDuration(value)
		case "journal":
			cfg.JournalEnabled, err = strconv.ParseBool(value)
		case "cache size", "cache_size", "cachesize":
			cfg.CacheSize, err = strconv.Atoi(value)
		case "collation":
			cfg.Collation = value
		case "readonly", "read only", "read_only":
			cfg.ReadOnly, err = strconv.ParseBool(value)
		case "log level", "log_level":
			cfg.Logger.Level = value
			cfg.Logger.Disabled = false
		case "log file", "log_file":
			cfg.Logger.OutputFile = value
			cfg.Logger.Disabled = false
		default:
			return cfg, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, key)
		}
		if err != nil {
			return cfg, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, value, err)
		}
	}
	return cfg, cfg.Validate()
}

// parseDuration accepts Go durations ("30s") and bare seconds ("30").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
