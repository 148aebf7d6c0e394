// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

store:
  backend: "sqlite"
  path: "./test.db"
  namespace: "coord"

auth:
  jwt_secret: "test-secret"

locks:
  ttl: "10m"

presence:
  offline_threshold: "5m"
  active_threshold: "30m"

announce:
  retain: 100

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify server config
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}

	// Verify store config
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "sqlite")
	}
	if cfg.Store.Path != "./test.db" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "./test.db")
	}
	if cfg.Store.Namespace != "coord" {
		t.Errorf("Store.Namespace = %q, want %q", cfg.Store.Namespace, "coord")
	}

	// Verify auth config
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "test-secret")
	}

	// Verify duration parsing
	if cfg.Locks.TTL != 10*time.Minute {
		t.Errorf("Locks.TTL = %v, want %v", cfg.Locks.TTL, 10*time.Minute)
	}
	if cfg.Presence.OfflineThreshold != 5*time.Minute {
		t.Errorf("Presence.OfflineThreshold = %v, want %v", cfg.Presence.OfflineThreshold, 5*time.Minute)
	}
	if cfg.Presence.ActiveThreshold != 30*time.Minute {
		t.Errorf("Presence.ActiveThreshold = %v, want %v", cfg.Presence.ActiveThreshold, 30*time.Minute)
	}

	// Verify announce config
	if cfg.Announce.Retain != 100 {
		t.Errorf("Announce.Retain = %d, want 100", cfg.Announce.Retain)
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "secret-from-env")
	t.Setenv("TEST_REDIS_PASSWORD", "redis-from-env")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

store:
  backend: "redis"
  redis_addr: "localhost:6379"
  redis_password: "${TEST_REDIS_PASSWORD}"

auth:
  jwt_secret: "${TEST_JWT_SECRET}"

logging:
  level: "info"
  format: "text"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify env var expansion
	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret-from-env")
	}
	if cfg.Store.RedisPassword != "redis-from-env" {
		t.Errorf("Store.RedisPassword = %q, want %q", cfg.Store.RedisPassword, "redis-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	// Ensure the env var is NOT set
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

store:
  backend: "memory"

auth:
  jwt_secret: "${UNSET_VAR_FOR_TEST}"

logging:
  level: "info"
  format: "text"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Auth.JWTSecret != "" {
		t.Errorf("Auth.JWTSecret = %q, want empty string for unset env var", cfg.Auth.JWTSecret)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

store:
  backend: "memory"

locks:
  ttl: "1m30s"

presence:
  offline_threshold: "2h"
  active_threshold: "10m"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify complex duration parsing
	expectedTTL := 1*time.Minute + 30*time.Second
	if cfg.Locks.TTL != expectedTTL {
		t.Errorf("Locks.TTL = %v, want %v", cfg.Locks.TTL, expectedTTL)
	}

	if cfg.Presence.OfflineThreshold != 2*time.Hour {
		t.Errorf("Presence.OfflineThreshold = %v, want %v", cfg.Presence.OfflineThreshold, 2*time.Hour)
	}

	if cfg.Presence.ActiveThreshold != 10*time.Minute {
		t.Errorf("Presence.ActiveThreshold = %v, want %v", cfg.Presence.ActiveThreshold, 10*time.Minute)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr "missing colon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

store:
  backend: "memory"

locks:
  ttl: "invalid-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
server:
  http_addr: ""
store:
  backend: "memory"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "sqlite backend without path",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
store:
  backend: "sqlite"
  path: ""
`,
			wantErrSubstr: "store.path is required",
		},
		{
			name: "redis backend without address",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
store:
  backend: "redis"
  redis_addr: ""
`,
			wantErrSubstr: "store.redis_addr is required",
		},
		{
			name: "unknown backend",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
store:
  backend: "dynamo"
`,
			wantErrSubstr: "store.backend must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := Config{
		Server: ServerConfig{HTTPAddr: "0.0.0.0:8080"},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error for default memory backend: %v", err)
	}

	cfg.Announce.Retain = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for negative announce.retain, got nil")
	}
}
