// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

// Package config loads Crossplay configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//
//  1. Transport: Server (HTTP listener), WebSocket (connection pumps, origins)
//  2. Access: Security (bearer tokens, anonymous session kinds)
//  3. Flow control: RateLimit (event windows), Sync (catch-up throttle)
//  4. Storage: Store (backend selection, circuit breaker), Dispatch (per-session ordering)
//  5. Observability: Logging
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Security  SecurityConfig  `koanf:"security"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Sync      SyncConfig      `koanf:"sync"`
	Store     StoreConfig     `koanf:"store"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	// Environment is "development" or "production"; production tightens
	// origin checks.
	Environment string `koanf:"environment"`
}

// WebSocketConfig holds realtime connection settings.
type WebSocketConfig struct {
	// WriteWait bounds a single frame write.
	WriteWait time.Duration `koanf:"write_wait"`
	// PongWait is how long a connection may stay silent before it is dropped.
	PongWait time.Duration `koanf:"pong_wait"`
	// PingPeriod must be shorter than PongWait.
	PingPeriod     time.Duration `koanf:"ping_period"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	// SendBuffer is the per-connection outbound queue; a full queue marks a
	// slow consumer and the connection is closed.
	SendBuffer     int      `koanf:"send_buffer"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	// OriginatorEcho also broadcasts an accepted event back to the
	// connection that submitted it.
	OriginatorEcho bool `koanf:"originator_echo"`
	// UpgradeRateLimit caps websocket upgrades per client IP per
	// UpgradeRateWindow.
	UpgradeRateLimit  int           `koanf:"upgrade_rate_limit"`
	UpgradeRateWindow time.Duration `koanf:"upgrade_rate_window"`
}

// SecurityConfig holds bearer token and access policy settings.
type SecurityConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	TokenIssuer string        `koanf:"token_issuer"`
	TokenTTL    time.Duration `koanf:"token_ttl"`
	// AnonymousKinds lists session kinds an unauthenticated connection may
	// join, submit to and sync.
	AnonymousKinds []string `koanf:"anonymous_kinds"`
}

// RateLimitConfig holds the fixed-window event limiter settings.
type RateLimitConfig struct {
	ConnectionMaxEvents int           `koanf:"connection_max_events"`
	ActorMaxEvents      int           `koanf:"actor_max_events"`
	Window              time.Duration `koanf:"window"`
	EntryTTL            time.Duration `koanf:"entry_ttl"`
	SweepInterval       time.Duration `koanf:"sweep_interval"`
	Capacity            int           `koanf:"capacity"`
	EvictFraction       float64       `koanf:"evict_fraction"`
}

// SyncConfig bounds catch-up requests per connection. Sync requests are
// not counted by the event limiter.
type SyncConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// StoreConfig selects and tunes the event store backend.
type StoreConfig struct {
	// Backend is one of memory, badger, sqlite, postgres.
	Backend         string        `koanf:"backend"`
	BadgerPath      string        `koanf:"badger_path"`
	SyncWrites      bool          `koanf:"sync_writes"`
	GCInterval      time.Duration `koanf:"gc_interval"`
	SQLitePath      string        `koanf:"sqlite_path"`
	PostgresDSN     string        `koanf:"postgres_dsn"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// DispatchConfig sizes the per-session serialized dispatcher.
type DispatchConfig struct {
	Shards     int `koanf:"shards"`
	QueueDepth int `koanf:"queue_depth"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from (in order of precedence, lowest first):
//  1. Built-in defaults
//  2. Config file (config.yaml if exists, or path specified in CONFIG_PATH env var)
//  3. Environment variables
//
// See LoadWithKoanf() for the underlying implementation.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
