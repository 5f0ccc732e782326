// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package eventstore

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/crossplay/internal/models"
)

// MemoryStore keeps every session log in process memory.
type MemoryStore struct {
	clock Clock

	mu       sync.RWMutex
	sessions map[models.SessionKey]*memoryLog
	closed   bool
}

type memoryLog struct {
	mu     sync.RWMutex
	events []models.Event
	byID   map[string]int
}

// NewMemoryStore creates an empty in-memory store. A nil clock uses time.Now.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = systemClock
	}
	return &MemoryStore{
		clock:    clock,
		sessions: make(map[models.SessionKey]*memoryLog),
	}
}

func (s *MemoryStore) log(session models.SessionKey, create bool) (*memoryLog, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	l := s.sessions[session]
	s.mu.RUnlock()
	if l != nil || !create {
		return l, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if l = s.sessions[session]; l == nil {
		l = &memoryLog{byID: make(map[string]int)}
		s.sessions[session] = l
	}
	return l, nil
}

// Append implements Store.
//
//nolint:gocritic // models.Event is passed by value per the Store interface
func (s *MemoryStore) Append(ctx context.Context, e models.Event) (AppendResult, error) {
	if err := validateEvent(&e); err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	l, err := s.log(e.Session, true)
	if err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.byID[e.EventID]; ok {
		return AppendResult{Event: l.events[i], Duplicate: true}, nil
	}

	var last int64
	if n := len(l.events); n > 0 {
		last = l.events[n-1].Timestamp
	}
	if e.Timestamp, err = NextTimestamp(e.Timestamp, last, s.clock().UnixMilli()); err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}

	l.byID[e.EventID] = len(l.events)
	l.events = append(l.events, e)
	return AppendResult{Event: e}, nil
}

// All implements Store.
func (s *MemoryStore) All(ctx context.Context, session models.SessionKey) ([]models.Event, error) {
	return s.Since(ctx, session, -1)
}

// Since implements Store.
func (s *MemoryStore) Since(_ context.Context, session models.SessionKey, since int64) ([]models.Event, error) {
	l, err := s.log(session, false)
	if err != nil {
		return nil, persistErr("since", session, err)
	}
	if l == nil {
		return []models.Event{}, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].Timestamp > since
	})
	out := make([]models.Event, len(l.events)-start)
	copy(out, l.events[start:])
	return out, nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context, session models.SessionKey) (int64, error) {
	l, err := s.log(session, false)
	if err != nil {
		return 0, persistErr("latest", session, err)
	}
	if l == nil {
		return 0, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n := len(l.events); n > 0 {
		return l.events[n-1].Timestamp, nil
	}
	return 0, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store. The logs are released.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessions = nil
	return nil
}
