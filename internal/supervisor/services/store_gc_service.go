// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package services

import (
	"context"
	"fmt"
	"time"
)

// ValueLogGC matches the BadgerDB event store's garbage collection loop.
//
// Satisfied by *eventstore.BadgerStore (RunGC).
type ValueLogGC interface {
	RunGC(ctx context.Context, interval time.Duration) error
}

// StoreGCService runs value log garbage collection for the BadgerDB event
// store as a supervised data-layer service. Other backends have no GC loop
// and do not register one.
//
// Example usage:
//
//	if bs, ok := store.Unwrap().(*eventstore.BadgerStore); ok {
//	    tree.AddDataService(services.NewStoreGCService(bs, cfg.Store.GCInterval))
//	}
type StoreGCService struct {
	store    ValueLogGC
	interval time.Duration
	name     string
}

// NewStoreGCService creates the GC service. interval defaults to 5m.
func NewStoreGCService(store ValueLogGC, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		name:     "eventstore-gc",
	}
}

// Serve implements suture.Service. A GC failure returns an error so suture
// restarts the loop under its backoff policy.
func (s *StoreGCService) Serve(ctx context.Context) error {
	if err := s.store.RunGC(ctx, s.interval); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event store gc failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *StoreGCService) String() string {
	return s.name
}
