// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

// Package ratelimit bounds the event rate of realtime connections.
//
// Two fixed windows are kept: one per connection and one per actor. The actor
// window aggregates every connection of the same principal, so opening more
// sockets does not raise the ceiling. Memory is bounded twice: a periodic
// sweep drops windows idle for longer than the entry TTL, and inserting into a
// full table first evicts the least recently active fraction of it.
//
// Actor windows are not removed when a connection closes. They live until the
// TTL sweep, so a principal that reconnects inside the window keeps its count.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/metrics"
)

// Config holds limiter settings.
type Config struct {
	// ConnectionMaxEvents is the ceiling per connection per window.
	ConnectionMaxEvents int

	// ActorMaxEvents is the ceiling per actor per window across connections.
	ActorMaxEvents int

	// Window is the fixed window length.
	Window time.Duration

	// EntryTTL is the idle time after which the sweep removes a window.
	EntryTTL time.Duration

	// SweepInterval is how often the TTL sweep runs.
	SweepInterval time.Duration

	// Capacity caps tracked windows per scope.
	Capacity int

	// EvictFraction is the share of a full table evicted before an insert.
	EvictFraction float64

	// Clock overrides time.Now (tests).
	Clock func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ConnectionMaxEvents: 60,
		ActorMaxEvents:      40,
		Window:              time.Second,
		EntryTTL:            5 * time.Minute,
		SweepInterval:       time.Minute,
		Capacity:            100_000,
		EvictFraction:       0.1,
	}
}

// Scope names a window table.
type Scope string

// Scopes.
const (
	ScopeConnection Scope = "connection"
	ScopeActor      Scope = "actor"
)

type window struct {
	count        int
	windowStart  time.Time
	lastActivity time.Time
}

// table is one scope's windows. Guarded by Limiter.mu.
type table struct {
	scope   Scope
	max     int
	entries map[string]*window
}

// Limiter is the fixed-window event limiter. Its counters change only
// through CheckAndRecord, the sweep and capacity eviction.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	conns  table
	actors table
}

// New creates a Limiter. Zero fields of cfg take DefaultConfig values.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.ConnectionMaxEvents <= 0 {
		cfg.ConnectionMaxEvents = def.ConnectionMaxEvents
	}
	if cfg.ActorMaxEvents <= 0 {
		cfg.ActorMaxEvents = def.ActorMaxEvents
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = def.EntryTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.EvictFraction <= 0 || cfg.EvictFraction > 1 {
		cfg.EvictFraction = def.EvictFraction
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Limiter{
		cfg:    cfg,
		now:    now,
		conns:  table{scope: ScopeConnection, max: cfg.ConnectionMaxEvents, entries: make(map[string]*window)},
		actors: table{scope: ScopeActor, max: cfg.ActorMaxEvents, entries: make(map[string]*window)},
	}
}

// CheckAndRecord admits one event for connectionID and, when actorID is not
// empty, for actorID. Both windows are checked before either is incremented,
// so a rejection leaves every counter untouched.
func (l *Limiter) CheckAndRecord(connectionID, actorID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if !l.admits(&l.conns, connectionID, now) {
		metrics.RateLimitRejections.WithLabelValues(string(ScopeConnection)).Inc()
		return false
	}
	if actorID != "" && !l.admits(&l.actors, actorID, now) {
		metrics.RateLimitRejections.WithLabelValues(string(ScopeActor)).Inc()
		return false
	}

	l.record(&l.conns, connectionID, now)
	if actorID != "" {
		l.record(&l.actors, actorID, now)
	}
	return true
}

// admits reports whether one more event fits in key's current window.
func (l *Limiter) admits(t *table, key string, now time.Time) bool {
	w, ok := t.entries[key]
	if !ok || now.Sub(w.windowStart) >= l.cfg.Window {
		return t.max > 0
	}
	return w.count < t.max
}

func (l *Limiter) record(t *table, key string, now time.Time) {
	w, ok := t.entries[key]
	if !ok {
		if len(t.entries) >= l.cfg.Capacity {
			l.evictOldest(t)
		}
		t.entries[key] = &window{count: 1, windowStart: now, lastActivity: now}
		metrics.RateLimitEntries.WithLabelValues(string(t.scope)).Set(float64(len(t.entries)))
		return
	}
	if now.Sub(w.windowStart) >= l.cfg.Window {
		w.count = 1
		w.windowStart = now
	} else {
		w.count++
	}
	w.lastActivity = now
}

// evictOldest removes the least recently active EvictFraction of t
// (at least one entry, and enough to leave room for an insert).
func (l *Limiter) evictOldest(t *table) {
	n := int(float64(len(t.entries)) * l.cfg.EvictFraction)
	if overflow := len(t.entries) - l.cfg.Capacity + 1; n < overflow {
		n = overflow
	}
	if n < 1 {
		n = 1
	}

	type aged struct {
		key  string
		last time.Time
	}
	all := make([]aged, 0, len(t.entries))
	for k, w := range t.entries {
		all = append(all, aged{k, w.lastActivity})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].last.Before(all[j].last) })

	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(t.entries, a.key)
	}
	metrics.RateLimitEvictions.WithLabelValues("capacity").Add(float64(n))
	logging.Debug().Str("scope", string(t.scope)).Int("evicted", n).Int("remaining", len(t.entries)).
		Msg("Rate limit table at capacity, evicted least recently active windows")
}

// Sweep removes windows idle for longer than the entry TTL and returns how
// many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.EntryTTL)
	removed := 0
	for _, t := range []*table{&l.conns, &l.actors} {
		for k, w := range t.entries {
			if w.lastActivity.Before(cutoff) {
				delete(t.entries, k)
				removed++
			}
		}
		metrics.RateLimitEntries.WithLabelValues(string(t.scope)).Set(float64(len(t.entries)))
	}
	if removed > 0 {
		metrics.RateLimitEvictions.WithLabelValues("ttl").Add(float64(removed))
	}
	return removed
}

// RunSweeper sweeps every SweepInterval until ctx is done.
func (l *Limiter) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logging.Debug().Int("removed", n).Msg("Rate limit sweep removed idle windows")
			}
		}
	}
}

// Len returns the number of tracked windows in scope.
func (l *Limiter) Len(scope Scope) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if scope == ScopeActor {
		return len(l.actors.entries)
	}
	return len(l.conns.entries)
}

// Counts returns the current window counts for a connection and actor, for
// the log line written when a connection is terminated.
func (l *Limiter) Counts(connectionID, actorID string) (conn, actor int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.conns.entries[connectionID]; ok {
		conn = w.count
	}
	if w, ok := l.actors.entries[actorID]; ok {
		actor = w.count
	}
	return conn, actor
}

// Forget drops a connection's window. Actor windows are kept.
func (l *Limiter) Forget(connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns.entries, connectionID)
	metrics.RateLimitEntries.WithLabelValues(string(ScopeConnection)).Set(float64(len(l.conns.entries)))
}
