// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWTSecret = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "HTTP_PORT"},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "HTTP_PORT"},
		{name: "pong wait equals ping period", mutate: func(c *Config) { c.WebSocket.PongWait = c.WebSocket.PingPeriod }, wantErr: "WS_PONG_WAIT"},
		{name: "pong wait below ping period", mutate: func(c *Config) { c.WebSocket.PongWait = time.Second }, wantErr: "WS_PONG_WAIT"},
		{name: "zero send buffer", mutate: func(c *Config) { c.WebSocket.SendBuffer = 0 }, wantErr: "WS_SEND_BUFFER"},
		{
			name: "wildcard origin in production",
			mutate: func(c *Config) {
				c.Server.Environment = "production"
				c.WebSocket.AllowedOrigins = []string{"*"}
			},
			wantErr: "WS_ALLOWED_ORIGINS",
		},
		{
			name:   "wildcard origin in development",
			mutate: func(c *Config) { c.WebSocket.AllowedOrigins = []string{"*"} },
		},
		{name: "placeholder secret", mutate: func(c *Config) { c.Security.JWTSecret = "CHANGEME-CHANGEME-CHANGEME-CHANGEME" }, wantErr: "placeholder"},
		{name: "unknown anonymous kind", mutate: func(c *Config) { c.Security.AnonymousKinds = []string{"lobby"} }, wantErr: "ANONYMOUS_KINDS"},
		{name: "no anonymous kinds", mutate: func(c *Config) { c.Security.AnonymousKinds = nil }},
		{name: "zero connection limit", mutate: func(c *Config) { c.RateLimit.ConnectionMaxEvents = 0 }, wantErr: "RATE_LIMIT_CONNECTION_MAX"},
		{name: "negative actor limit", mutate: func(c *Config) { c.RateLimit.ActorMaxEvents = -1 }, wantErr: "RATE_LIMIT_ACTOR_MAX"},
		{name: "actor limit above connection limit is allowed", mutate: func(c *Config) { c.RateLimit.ActorMaxEvents = 500 }},
		{name: "ttl shorter than window", mutate: func(c *Config) { c.RateLimit.EntryTTL = 100 * time.Millisecond }, wantErr: "RATE_LIMIT_ENTRY_TTL"},
		{name: "evict fraction zero", mutate: func(c *Config) { c.RateLimit.EvictFraction = 0 }, wantErr: "EVICT_FRACTION"},
		{name: "evict fraction one", mutate: func(c *Config) { c.RateLimit.EvictFraction = 1 }},
		{name: "sync burst zero", mutate: func(c *Config) { c.Sync.Burst = 0 }, wantErr: "SYNC_BURST"},
		{name: "badger without path", mutate: func(c *Config) { c.Store.BadgerPath = "" }, wantErr: "BADGER_PATH"},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Store.Backend = "sqlite"
				c.Store.SQLitePath = ""
			},
			wantErr: "SQLITE_PATH",
		},
		{name: "zero breaker failures", mutate: func(c *Config) { c.Store.BreakerFailures = 0 }, wantErr: "STORE_BREAKER_FAILURES"},
		{name: "zero shards", mutate: func(c *Config) { c.Dispatch.Shards = 0 }, wantErr: "DISPATCH_SHARDS"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "LOG_LEVEL"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "empty log format", mutate: func(c *Config) { c.Logging.Format = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvironmentModes(t *testing.T) {
	tests := []struct {
		env         string
		production  bool
		development bool
	}{
		{"", false, true},
		{"development", false, true},
		{"dev", false, true},
		{"production", true, false},
		{"PROD", true, false},
		{"staging", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{Server: ServerConfig{Environment: tt.env}}
			if got := cfg.IsProduction(); got != tt.production {
				t.Errorf("IsProduction() = %v, want %v", got, tt.production)
			}
			if got := cfg.IsDevelopment(); got != tt.development {
				t.Errorf("IsDevelopment() = %v, want %v", got, tt.development)
			}
		})
	}
}

func TestActorLimitExceedsConnection(t *testing.T) {
	cfg := validConfig()
	if cfg.ActorLimitExceedsConnection() {
		t.Error("defaults should not flag actor limit")
	}
	cfg.RateLimit.ActorMaxEvents = cfg.RateLimit.ConnectionMaxEvents + 1
	if !cfg.ActorLimitExceedsConnection() {
		t.Error("expected actor limit above connection limit to be flagged")
	}
}

func TestContainsPlaceholder(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{testSecret, false},
		{"replace-me-with-a-real-secret-value", true},
		{"your_secret_goes_here_0123456789abcdef", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := containsPlaceholder(tt.value); got != tt.want {
			t.Errorf("containsPlaceholder(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
