// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package config

import (
	"fmt"
	"strings"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateWebSocket(); err != nil {
		return err
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	if err := c.validateRateLimit(); err != nil {
		return err
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if err := c.validateDispatch(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "" || env == "development" || env == "dev"
}

func (c *Config) validateWebSocket() error {
	ws := c.WebSocket
	if ws.WriteWait <= 0 {
		return fmt.Errorf("WS_WRITE_WAIT must be positive")
	}
	if ws.PingPeriod <= 0 {
		return fmt.Errorf("WS_PING_PERIOD must be positive")
	}
	if ws.PongWait <= ws.PingPeriod {
		return fmt.Errorf("WS_PONG_WAIT (%s) must be greater than WS_PING_PERIOD (%s)", ws.PongWait, ws.PingPeriod)
	}
	if ws.MaxMessageSize <= 0 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be positive")
	}
	if ws.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	if ws.UpgradeRateLimit <= 0 || ws.UpgradeRateWindow <= 0 {
		return fmt.Errorf("WS_UPGRADE_RATE_LIMIT and WS_UPGRADE_RATE_WINDOW must be positive")
	}
	if c.IsProduction() && c.hasWildcardOrigin() {
		return fmt.Errorf("WS_ALLOWED_ORIGINS must not contain '*' in production")
	}
	return nil
}

func (c *Config) hasWildcardOrigin() bool {
	for _, origin := range c.WebSocket.AllowedOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// validSessionKinds mirrors the session namespaces the server understands.
var validSessionKinds = map[string]bool{
	"game": true,
	"room": true,
}

func (c *Config) validateSecurity() error {
	if err := c.validateJWTSecret(); err != nil {
		return err
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	for _, kind := range c.Security.AnonymousKinds {
		if !validSessionKinds[kind] {
			return fmt.Errorf("ANONYMOUS_KINDS contains unknown session kind %q (want game or room)", kind)
		}
	}
	return nil
}

// validateJWTSecret validates the JWT secret configuration
func (c *Config) validateJWTSecret() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}
	if containsPlaceholder(c.Security.JWTSecret) {
		return fmt.Errorf("JWT_SECRET contains a placeholder value - generate a secure secret with: openssl rand -base64 32")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	rl := c.RateLimit
	if rl.ConnectionMaxEvents <= 0 {
		return fmt.Errorf("RATE_LIMIT_CONNECTION_MAX must be positive")
	}
	if rl.ActorMaxEvents <= 0 {
		return fmt.Errorf("RATE_LIMIT_ACTOR_MAX must be positive")
	}
	if rl.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if rl.EntryTTL < rl.Window {
		return fmt.Errorf("RATE_LIMIT_ENTRY_TTL (%s) must not be shorter than RATE_LIMIT_WINDOW (%s)", rl.EntryTTL, rl.Window)
	}
	if rl.SweepInterval <= 0 {
		return fmt.Errorf("RATE_LIMIT_SWEEP_INTERVAL must be positive")
	}
	if rl.Capacity <= 0 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be positive")
	}
	if rl.EvictFraction <= 0 || rl.EvictFraction > 1 {
		return fmt.Errorf("RATE_LIMIT_EVICT_FRACTION must be in (0, 1], got %v", rl.EvictFraction)
	}
	return nil
}

// ActorLimitExceedsConnection reports the allowed-but-suspicious case where
// a single actor may submit more than any one of its connections.
func (c *Config) ActorLimitExceedsConnection() bool {
	return c.RateLimit.ActorMaxEvents > c.RateLimit.ConnectionMaxEvents
}

func (c *Config) validateSync() error {
	if c.Sync.RequestsPerSecond <= 0 {
		return fmt.Errorf("SYNC_REQUESTS_PER_SECOND must be positive")
	}
	if c.Sync.Burst < 1 {
		return fmt.Errorf("SYNC_BURST must be at least 1")
	}
	return nil
}

// validStoreBackends defines the allowed event store backends
var validStoreBackends = map[string]bool{
	"memory":   true,
	"badger":   true,
	"sqlite":   true,
	"postgres": true,
}

func (c *Config) validateStore() error {
	s := c.Store
	if !validStoreBackends[s.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of: memory, badger, sqlite, postgres")
	}
	switch s.Backend {
	case "badger":
		if s.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when STORE_BACKEND=badger")
		}
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_BACKEND=sqlite")
		}
	case "postgres":
		if s.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_BACKEND=postgres")
		}
	}
	if s.BreakerFailures == 0 {
		return fmt.Errorf("STORE_BREAKER_FAILURES must be positive")
	}
	if s.BreakerTimeout <= 0 {
		return fmt.Errorf("STORE_BREAKER_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.Shards <= 0 {
		return fmt.Errorf("DISPATCH_SHARDS must be positive")
	}
	if c.Dispatch.QueueDepth <= 0 {
		return fmt.Errorf("DISPATCH_QUEUE_DEPTH must be positive")
	}
	return nil
}

// validLogLevels defines the allowed log levels
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats defines the allowed log formats
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if err := c.validateLogLevel(); err != nil {
		return err
	}
	return c.validateLogFormat()
}

// validateLogLevel validates the log level configuration
func (c *Config) validateLogLevel() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	return nil
}

// validateLogFormat validates the log format configuration
func (c *Config) validateLogFormat() error {
	if c.Logging.Format == "" {
		return nil
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// placeholderPatterns defines common placeholder patterns that indicate
// the user forgot to set a real value.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"TODO",
	"FIXME",
	"XXX",
	"EXAMPLE",
}

// containsPlaceholder checks if a value contains common placeholder patterns.
func containsPlaceholder(value string) bool {
	upperValue := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upperValue, pattern) {
			return true
		}
	}
	return false
}
