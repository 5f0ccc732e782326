// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package eventstore is the durable, append-only log of per-session events.

It is the single source of truth for session history and the only component
that mutates it. Every backend implements Store with the same guarantees:

  - Timestamps are unique and strictly increasing per session. A supplied
    timestamp is kept when it is greater than the session's last timestamp;
    otherwise the store assigns max(now, last+1) in Unix milliseconds.
  - Appends are idempotent on (session, eventId). Re-appending an already
    stored id returns the stored event with Duplicate set and writes nothing.
  - All and Since return events in ascending timestamp order; Since is
    strictly-after and returns an empty slice, never an error, when nothing
    qualifies.
  - Backend failures surface as *PersistenceError; nothing is silently dropped.

Backends:
  - MemoryStore: process-local, for tests and ephemeral deployments
  - BadgerStore: embedded BadgerDB (default)
  - SQLStore: SQLite via modernc.org/sqlite
  - PostgresStore: PostgreSQL via pgx

Resilient wraps any backend with a circuit breaker and Prometheus metrics.

The store does not notify subscribers; the dispatcher broadcasts after a
successful append.
*/
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/crossplay/internal/models"
)

// Store is the event log contract shared by all backends.
type Store interface {
	// Append persists e (its Timestamp is a proposal) and returns the stored form.
	Append(ctx context.Context, e models.Event) (AppendResult, error)

	// All returns the complete ordered history of a session.
	All(ctx context.Context, session models.SessionKey) ([]models.Event, error)

	// Since returns the events with timestamp strictly greater than since.
	Since(ctx context.Context, session models.SessionKey, since int64) ([]models.Event, error)

	// Latest returns the last assigned timestamp of a session, or 0.
	Latest(ctx context.Context, session models.SessionKey) (int64, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// AppendResult is the outcome of an Append.
type AppendResult struct {
	Event     models.Event
	Duplicate bool
}

// Clock returns the current time. Stores take one so tests can pin "now".
type Clock func() time.Time

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("event store unavailable")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("event store closed")

// ErrTimestampExhausted is returned when a session's last timestamp is
// math.MaxInt64 and no later one exists.
var ErrTimestampExhausted = errors.New("session timestamp space exhausted")

// PersistenceError reports a failed append or read at the storage layer.
// It is fatal for that one operation and must reach the caller.
type PersistenceError struct {
	Op      string
	Session models.SessionKey
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("eventstore %s %s: %v", e.Op, e.Session, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err is (or wraps) a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func persistErr(op string, session models.SessionKey, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Session: session, Err: err}
}

// NextTimestamp picks the timestamp for a new event. proposed is kept when it
// orders after last; otherwise the result is max(now, last+1).
func NextTimestamp(proposed, last, now int64) (int64, error) {
	if proposed > last {
		return proposed, nil
	}
	if now > last {
		return now, nil
	}
	if last == math.MaxInt64 {
		return 0, ErrTimestampExhausted
	}
	return last + 1, nil
}

func validateEvent(e *models.Event) error {
	if e.EventID == "" {
		return errors.New("event id is required")
	}
	if e.Session.Kind == "" || e.Session.ID == "" {
		return errors.New("session is required")
	}
	return nil
}

func systemClock() time.Time { return time.Now() }
