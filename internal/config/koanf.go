// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/crossplay/config.yaml",
	"/etc/crossplay/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              3857,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			Environment:       "development",
		},
		WebSocket: WebSocketConfig{
			WriteWait:         10 * time.Second,
			PongWait:          60 * time.Second,
			PingPeriod:        54 * time.Second,
			MaxMessageSize:    64 * 1024,
			SendBuffer:        256,
			AllowedOrigins:    []string{},
			OriginatorEcho:    false,
			UpgradeRateLimit:  30,
			UpgradeRateWindow: time.Minute,
		},
		Security: SecurityConfig{
			JWTSecret:      "", // Required
			TokenIssuer:    "crossplay",
			TokenTTL:       24 * time.Hour,
			AnonymousKinds: []string{"game", "room"},
		},
		RateLimit: RateLimitConfig{
			ConnectionMaxEvents: 60,
			ActorMaxEvents:      40,
			Window:              time.Second,
			EntryTTL:            5 * time.Minute,
			SweepInterval:       time.Minute,
			Capacity:            100000,
			EvictFraction:       0.1,
		},
		Sync: SyncConfig{
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Store: StoreConfig{
			Backend:         "badger",
			BadgerPath:      "/data/crossplay",
			SyncWrites:      true,
			GCInterval:      10 * time.Minute,
			SQLitePath:      "/data/crossplay.db",
			PostgresDSN:     "",
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Dispatch: DispatchConfig{
			Shards:     32,
			QueueDepth: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// JWT_SECRET -> security.jwt_secret
	// RATE_LIMIT_WINDOW -> ratelimit.window
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"websocket.allowed_origins",
	"security.anonymous_kinds",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		strVal, ok := val.(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		// An explicitly empty value clears the list, e.g. ANONYMOUS_KINDS=""
		// closes every session kind to anonymous connections.
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Server
	"http_host":           "server.host",
	"http_port":           "server.port",
	"read_header_timeout": "server.read_header_timeout",
	"shutdown_timeout":    "server.shutdown_timeout",
	"environment":         "server.environment",

	// WebSocket
	"ws_write_wait":          "websocket.write_wait",
	"ws_pong_wait":           "websocket.pong_wait",
	"ws_ping_period":         "websocket.ping_period",
	"ws_max_message_size":    "websocket.max_message_size",
	"ws_send_buffer":         "websocket.send_buffer",
	"ws_allowed_origins":     "websocket.allowed_origins",
	"ws_originator_echo":     "websocket.originator_echo",
	"ws_upgrade_rate_limit":  "websocket.upgrade_rate_limit",
	"ws_upgrade_rate_window": "websocket.upgrade_rate_window",

	// Security
	"jwt_secret":      "security.jwt_secret",
	"token_issuer":    "security.token_issuer",
	"token_ttl":       "security.token_ttl",
	"anonymous_kinds": "security.anonymous_kinds",

	// Event rate limiting
	"rate_limit_connection_max": "ratelimit.connection_max_events",
	"rate_limit_actor_max":      "ratelimit.actor_max_events",
	"rate_limit_window":         "ratelimit.window",
	"rate_limit_entry_ttl":      "ratelimit.entry_ttl",
	"rate_limit_sweep_interval": "ratelimit.sweep_interval",
	"rate_limit_capacity":       "ratelimit.capacity",
	"rate_limit_evict_fraction": "ratelimit.evict_fraction",

	// Sync throttle
	"sync_requests_per_second": "sync.requests_per_second",
	"sync_burst":               "sync.burst",

	// Store
	"store_backend":          "store.backend",
	"badger_path":            "store.badger_path",
	"badger_sync_writes":     "store.sync_writes",
	"badger_gc_interval":     "store.gc_interval",
	"sqlite_path":            "store.sqlite_path",
	"postgres_dsn":           "store.postgres_dsn",
	"store_breaker_failures": "store.breaker_failures",
	"store_breaker_timeout":  "store.breaker_timeout",

	// Dispatch
	"dispatch_shards":      "dispatch.shards",
	"dispatch_queue_depth": "dispatch.queue_depth",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - JWT_SECRET -> security.jwt_secret
//   - STORE_BACKEND -> store.backend
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}

	// Unmapped keys return empty string to skip them so that unrelated
	// environment variables never reach the config tree.
	return ""
}
