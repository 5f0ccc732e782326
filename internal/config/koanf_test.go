// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testSecret = "k3Jq9vX2mP8sL5wR7tY1uN4bH6cF0dGz"

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 3857 {
		t.Errorf("Server.Port = %d, want 3857", cfg.Server.Port)
	}
	if cfg.Security.JWTSecret != "" {
		t.Errorf("Security.JWTSecret should be empty by default")
	}
	if !reflect.DeepEqual(cfg.Security.AnonymousKinds, []string{"game", "room"}) {
		t.Errorf("Security.AnonymousKinds = %v, want [game room]", cfg.Security.AnonymousKinds)
	}
	if cfg.RateLimit.ConnectionMaxEvents != 60 || cfg.RateLimit.ActorMaxEvents != 40 {
		t.Errorf("rate limits = %d/%d, want 60/40", cfg.RateLimit.ConnectionMaxEvents, cfg.RateLimit.ActorMaxEvents)
	}
	if cfg.RateLimit.Window != time.Second {
		t.Errorf("RateLimit.Window = %v, want 1s", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.EvictFraction != 0.1 {
		t.Errorf("RateLimit.EvictFraction = %v, want 0.1", cfg.RateLimit.EvictFraction)
	}
	if cfg.Store.Backend != "badger" {
		t.Errorf("Store.Backend = %q, want badger", cfg.Store.Backend)
	}
	if cfg.WebSocket.OriginatorEcho {
		t.Error("WebSocket.OriginatorEcho should be false by default")
	}
	if cfg.WebSocket.PingPeriod >= cfg.WebSocket.PongWait {
		t.Errorf("PingPeriod %v must be below PongWait %v", cfg.WebSocket.PingPeriod, cfg.WebSocket.PongWait)
	}

	// Defaults plus a secret must validate.
	cfg.Security.JWTSecret = testSecret
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults with secret failed validation: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"JWT_SECRET", "security.jwt_secret"},
		{"HTTP_PORT", "server.port"},
		{"STORE_BACKEND", "store.backend"},
		{"RATE_LIMIT_WINDOW", "ratelimit.window"},
		{"RATE_LIMIT_CONNECTION_MAX", "ratelimit.connection_max_events"},
		{"WS_ALLOWED_ORIGINS", "websocket.allowed_origins"},
		{"SYNC_BURST", "sync.burst"},
		{"LOG_LEVEL", "logging.level"},
		{"log_format", "logging.format"},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("env path wins", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, path)
		if got := findConfigFile(); got != path {
			t.Errorf("findConfigFile() = %q, want %q", got, path)
		}
	})

	t.Run("missing env path falls through", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "missing.yaml"))
		saved := DefaultConfigPaths
		DefaultConfigPaths = []string{filepath.Join(dir, "nope.yaml")}
		defer func() { DefaultConfigPaths = saved }()

		if got := findConfigFile(); got != "" {
			t.Errorf("findConfigFile() = %q, want empty", got)
		}
	})
}

// isolateConfig points config discovery at nothing so that only the
// environment set by the test applies.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
	saved := DefaultConfigPaths
	DefaultConfigPaths = nil
	t.Cleanup(func() { DefaultConfigPaths = saved })
}

func TestLoadWithKoanfEnvVars(t *testing.T) {
	isolateConfig(t)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_WINDOW", "2s")
	t.Setenv("RATE_LIMIT_EVICT_FRACTION", "0.25")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example.org, https://b.example.org")
	t.Setenv("WS_ORIGINATOR_ECHO", "true")
	t.Setenv("ANONYMOUS_KINDS", "room")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.RateLimit.Window != 2*time.Second {
		t.Errorf("RateLimit.Window = %v, want 2s", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.EvictFraction != 0.25 {
		t.Errorf("RateLimit.EvictFraction = %v, want 0.25", cfg.RateLimit.EvictFraction)
	}
	wantOrigins := []string{"https://a.example.org", "https://b.example.org"}
	if !reflect.DeepEqual(cfg.WebSocket.AllowedOrigins, wantOrigins) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.WebSocket.AllowedOrigins, wantOrigins)
	}
	if !cfg.WebSocket.OriginatorEcho {
		t.Error("OriginatorEcho should be true")
	}
	if !reflect.DeepEqual(cfg.Security.AnonymousKinds, []string{"room"}) {
		t.Errorf("AnonymousKinds = %v, want [room]", cfg.Security.AnonymousKinds)
	}
}

func TestLoadWithKoanfConfigFile(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9200
store:
  backend: sqlite
  sqlite_path: /tmp/crossplay-test.db
security:
  jwt_secret: ` + testSecret + `
  anonymous_kinds:
    - game
dispatch:
  shards: 8
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Server.Port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.SQLitePath != "/tmp/crossplay-test.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Dispatch.Shards != 8 {
		t.Errorf("Dispatch.Shards = %d, want 8", cfg.Dispatch.Shards)
	}
	if cfg.Dispatch.QueueDepth != 1024 {
		t.Errorf("Dispatch.QueueDepth = %d, want default 1024", cfg.Dispatch.QueueDepth)
	}
	if !reflect.DeepEqual(cfg.Security.AnonymousKinds, []string{"game"}) {
		t.Errorf("AnonymousKinds = %v, want [game]", cfg.Security.AnonymousKinds)
	}
}

func TestLoadWithKoanfEnvOverridesFile(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  port: 9300\nsecurity:\n  jwt_secret: " + testSecret + "\nstore:\n  backend: memory\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9400")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Server.Port != 9400 {
		t.Errorf("Server.Port = %d, want env value 9400", cfg.Server.Port)
	}
}

func TestLoadWithKoanfValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing secret",
			env:     map[string]string{},
			wantErr: "JWT_SECRET is required",
		},
		{
			name:    "short secret",
			env:     map[string]string{"JWT_SECRET": "short"},
			wantErr: "at least 32 characters",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"JWT_SECRET": testSecret, "STORE_BACKEND": "mongo"},
			wantErr: "STORE_BACKEND",
		},
		{
			name:    "postgres without dsn",
			env:     map[string]string{"JWT_SECRET": testSecret, "STORE_BACKEND": "postgres"},
			wantErr: "POSTGRES_DSN",
		},
		{
			name:    "evict fraction out of range",
			env:     map[string]string{"JWT_SECRET": testSecret, "STORE_BACKEND": "memory", "RATE_LIMIT_EVICT_FRACTION": "1.5"},
			wantErr: "EVICT_FRACTION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfig(t)
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadWithKoanf()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestProcessSliceFieldsEmptyClears(t *testing.T) {
	isolateConfig(t)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("ANONYMOUS_KINDS", "")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if len(cfg.Security.AnonymousKinds) != 0 {
		t.Errorf("AnonymousKinds = %v, want empty", cfg.Security.AnonymousKinds)
	}
}
