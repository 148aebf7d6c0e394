// ABOUTME: Configuration loading and parsing for coordd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coordd configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Locks    LocksConfig    `yaml:"locks"`
	Presence PresenceConfig `yaml:"presence"`
	Announce AnnounceConfig `yaml:"announce"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// StoreConfig selects and configures the shared state backend
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", or "redis"
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	// Namespace prefixes every key written to the store
	Namespace string `yaml:"namespace"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LocksConfig holds lock timing configuration
type LocksConfig struct {
	TTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TTLRaw string `yaml:"ttl"`
}

// PresenceConfig holds heartbeat classification thresholds
type PresenceConfig struct {
	OfflineThreshold time.Duration `yaml:"-"`
	ActiveThreshold  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	OfflineThresholdRaw string `yaml:"offline_threshold"`
	ActiveThresholdRaw  string `yaml:"active_threshold"`
}

// AnnounceConfig holds announcement feed configuration
type AnnounceConfig struct {
	Retain int `yaml:"retain"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Store.Backend {
	case "", "memory":
		// In-process store, nothing else to check
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory, sqlite, or redis (got %q)", c.Store.Backend)
	}

	if c.Announce.Retain < 0 {
		return fmt.Errorf("announce.retain must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Locks.TTLRaw != "" {
		cfg.Locks.TTL, err = time.ParseDuration(cfg.Locks.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing locks.ttl %q: %w", cfg.Locks.TTLRaw, err)
		}
	}

	if cfg.Presence.OfflineThresholdRaw != "" {
		cfg.Presence.OfflineThreshold, err = time.ParseDuration(cfg.Presence.OfflineThresholdRaw)
		if err != nil {
			return fmt.Errorf("parsing presence.offline_threshold %q: %w", cfg.Presence.OfflineThresholdRaw, err)
		}
	}

	if cfg.Presence.ActiveThresholdRaw != "" {
		cfg.Presence.ActiveThreshold, err = time.ParseDuration(cfg.Presence.ActiveThresholdRaw)
		if err != nil {
			return fmt.Errorf("parsing presence.active_threshold %q: %w", cfg.Presence.ActiveThresholdRaw, err)
		}
	}

	return nil
}
