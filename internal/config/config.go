// Package config loads invest-cache settings from a YAML file, a .env file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/cache"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/evaluator"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/normalize"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "invest-cache.yaml"

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Default: ~/.invest-cache/cache.db
	Path string `yaml:"path"`

	// PostgresDSN is used when Backend is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MetricsConfig selects the metrics exporter: "none" or "stdout".
type MetricsConfig struct {
	Exporter string `yaml:"exporter"`
}

// Config is the full application configuration.
type Config struct {
	Store     StoreConfig       `yaml:"store"`
	Cache     cache.Config      `yaml:"cache"`
	Normalize normalize.Options `yaml:"normalize"`
	Evaluator evaluator.Config  `yaml:"evaluator"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	LogLevel  string            `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store:     StoreConfig{Backend: "sqlite"},
		Cache:     cache.DefaultConfig(),
		Normalize: normalize.DefaultOptions(),
		Evaluator: evaluator.DefaultConfig(),
		Metrics:   MetricsConfig{Exporter: "none"},
		LogLevel:  "info",
	}
}

// Load reads path over the defaults. An empty path reads DefaultFile when it
// exists. A .env file in the working directory is loaded first, then
// environment overrides are applied and the result validated.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// A typos mapping in the file replaces the defaults rather than
		// merging into them.
		defaults := cfg.Normalize.Typos
		cfg.Normalize.Typos = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Normalize.Typos == nil {
			cfg.Normalize.Typos = defaults
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables:
//
//	INVEST_CACHE_DB            store.path
//	INVEST_CACHE_BACKEND       store.backend
//	INVEST_CACHE_POSTGRES_DSN  store.postgres_dsn
//	SIMILARITY_THRESHOLD       cache.threshold
//	INVEST_CACHE_LOG_LEVEL     log_level
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("INVEST_CACHE_DB"); v != "" {
		c.Store.Path = v
	}
	if v := getenv("INVEST_CACHE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := getenv("INVEST_CACHE_POSTGRES_DSN"); v != "" {
		c.Store.PostgresDSN = v
	}
	if v := getenv("SIMILARITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SIMILARITY_THRESHOLD: %w", err)
		}
		c.Cache.Threshold = f
	}
	if v := getenv("INVEST_CACHE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("config: store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q (valid: sqlite, postgres)", c.Store.Backend)
	}
	switch c.Metrics.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("config: unknown metrics exporter %q (valid: none, stdout)", c.Metrics.Exporter)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Evaluator.Validate()
}

// DBPath returns the SQLite path, defaulting to ~/.invest-cache/cache.db.
func (c *Config) DBPath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".invest-cache", "cache.db")
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}
