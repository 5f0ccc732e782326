// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package eventstore

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Backend     string
	BadgerPath  string
	SyncWrites  bool
	SQLitePath  string
	PostgresDSN string
	Breaker     BreakerConfig
	Clock       Clock
}

// Open constructs the configured backend wrapped in a Resilient decorator.
func Open(ctx context.Context, cfg Config) (*Resilient, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case BackendMemory:
		store = NewMemoryStore(cfg.Clock)
	case BackendBadger, "":
		cfg.Backend = BackendBadger
		store, err = OpenBadger(BadgerConfig{Path: cfg.BadgerPath, SyncWrites: cfg.SyncWrites, Clock: cfg.Clock})
	case BackendSQLite:
		store, err = OpenSQLite(cfg.SQLitePath, cfg.Clock)
	case BackendPostgres:
		store, err = OpenPostgres(ctx, cfg.PostgresDSN, cfg.Clock)
	default:
		return nil, fmt.Errorf("unknown event store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s event store: %w", cfg.Backend, err)
	}
	return NewResilient(store, cfg.Backend, cfg.Breaker), nil
}
