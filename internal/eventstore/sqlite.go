// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/models"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	session_kind TEXT    NOT NULL,
	session_id   TEXT    NOT NULL,
	ts           INTEGER NOT NULL,
	event_id     TEXT    NOT NULL,
	actor_id     TEXT    NOT NULL DEFAULT '',
	type         TEXT    NOT NULL,
	payload      BLOB    NOT NULL,
	PRIMARY KEY (session_kind, session_id, ts),
	UNIQUE (session_kind, session_id, event_id)
) WITHOUT ROWID;
`

// SQLStore persists session logs in a SQLite database file.
type SQLStore struct {
	db    *sql.DB
	clock Clock
}

// OpenSQLite opens (or creates) a SQLite event store at path.
func OpenSQLite(path string, clock Clock) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection keeps append transactions serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if clock == nil {
		clock = systemClock
	}
	logging.Info().Str("path", path).Msg("Event store opened (sqlite)")
	return &SQLStore{db: db, clock: clock}, nil
}

// Append implements Store.
//
//nolint:gocritic // models.Event is passed by value per the Store interface
func (s *SQLStore) Append(ctx context.Context, e models.Event) (AppendResult, error) {
	if err := validateEvent(&e); err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	// The append must not be abandoned half way if the submitter goes away.
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanEvents(tx.QueryContext(ctx,
		`SELECT session_kind, session_id, ts, event_id, actor_id, type, payload
		   FROM events WHERE session_kind = ? AND session_id = ? AND event_id = ?`,
		e.Session.Kind, e.Session.ID, e.EventID))
	if err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	if len(existing) > 0 {
		return AppendResult{Event: existing[0], Duplicate: true}, nil
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM events WHERE session_kind = ? AND session_id = ?`,
		e.Session.Kind, e.Session.ID).Scan(&last); err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	if e.Timestamp, err = NextTimestamp(e.Timestamp, last.Int64, s.clock().UnixMilli()); err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_kind, session_id, ts, event_id, actor_id, type, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Session.Kind, e.Session.ID, e.Timestamp, e.EventID, e.ActorID, e.Type, payloadBytes(e.Payload)); err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	if err := tx.Commit(); err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	return AppendResult{Event: e}, nil
}

// All implements Store.
func (s *SQLStore) All(ctx context.Context, session models.SessionKey) ([]models.Event, error) {
	return s.Since(ctx, session, -1)
}

// Since implements Store.
func (s *SQLStore) Since(ctx context.Context, session models.SessionKey, since int64) ([]models.Event, error) {
	events, err := scanEvents(s.db.QueryContext(ctx,
		`SELECT session_kind, session_id, ts, event_id, actor_id, type, payload
		   FROM events WHERE session_kind = ? AND session_id = ? AND ts > ?
		  ORDER BY ts ASC`,
		session.Kind, session.ID, since))
	if err != nil {
		return nil, persistErr("since", session, err)
	}
	return events, nil
}

// Latest implements Store.
func (s *SQLStore) Latest(ctx context.Context, session models.SessionKey) (int64, error) {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM events WHERE session_kind = ? AND session_id = ?`,
		session.Kind, session.ID).Scan(&last); err != nil {
		return 0, persistErr("latest", session, err)
	}
	return last.Int64, nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func payloadBytes(p []byte) []byte {
	if len(p) == 0 {
		return []byte("{}")
	}
	return p
}

// scanEvents drains rows in the column order used by every SELECT above.
func scanEvents(rows *sql.Rows, err error) ([]models.Event, error) {
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := []models.Event{}
	for rows.Next() {
		var (
			e       models.Event
			kind    string
			typ     string
			payload []byte
		)
		if err := rows.Scan(&kind, &e.Session.ID, &e.Timestamp, &e.EventID, &e.ActorID, &typ, &payload); err != nil {
			return nil, err
		}
		e.Session.Kind = models.SessionKind(kind)
		e.Type = models.EventType(typ)
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}
