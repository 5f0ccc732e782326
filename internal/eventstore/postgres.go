// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package eventstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS crossplay_events (
	session_kind TEXT   NOT NULL,
	session_id   TEXT   NOT NULL,
	ts           BIGINT NOT NULL,
	event_id     TEXT   NOT NULL,
	actor_id     TEXT   NOT NULL DEFAULT '',
	type         TEXT   NOT NULL,
	payload      JSONB  NOT NULL,
	PRIMARY KEY (session_kind, session_id, ts),
	UNIQUE (session_kind, session_id, event_id)
);
`

// PostgresStore persists session logs in PostgreSQL.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock Clock
}

// OpenPostgres connects to dsn and ensures the events table exists.
func OpenPostgres(ctx context.Context, dsn string, clock Clock) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if clock == nil {
		clock = systemClock
	}
	logging.Info().Str("host", cfg.ConnConfig.Host).Str("database", cfg.ConnConfig.Database).Msg("Event store opened (postgres)")
	return &PostgresStore{pool: pool, clock: clock}, nil
}

const selectColumns = `SELECT session_kind, session_id, ts, event_id, actor_id, type, payload FROM crossplay_events`

// Append implements Store. A transaction-scoped advisory lock on the session
// serializes appends from every process sharing the database.
//
//nolint:gocritic // models.Event is passed by value per the Store interface
func (s *PostgresStore) Append(ctx context.Context, e models.Event) (AppendResult, error) {
	if err := validateEvent(&e); err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	ctx = context.WithoutCancel(ctx)

	var result AppendResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.Session.String()); err != nil {
			return err
		}

		existing, err := collectEvents(tx.Query(ctx,
			selectColumns+` WHERE session_kind = $1 AND session_id = $2 AND event_id = $3`,
			string(e.Session.Kind), e.Session.ID, e.EventID))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			result = AppendResult{Event: existing[0], Duplicate: true}
			return nil
		}

		var last int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(ts), 0) FROM crossplay_events WHERE session_kind = $1 AND session_id = $2`,
			string(e.Session.Kind), e.Session.ID).Scan(&last); err != nil {
			return err
		}
		ts, err := NextTimestamp(e.Timestamp, last, s.clock().UnixMilli())
		if err != nil {
			return err
		}
		e.Timestamp = ts

		if _, err := tx.Exec(ctx,
			`INSERT INTO crossplay_events (session_kind, session_id, ts, event_id, actor_id, type, payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(e.Session.Kind), e.Session.ID, e.Timestamp, e.EventID, e.ActorID, string(e.Type),
			string(payloadBytes(e.Payload))); err != nil {
			return err
		}
		result = AppendResult{Event: e}
		return nil
	})
	if err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	return result, nil
}

// All implements Store.
func (s *PostgresStore) All(ctx context.Context, session models.SessionKey) ([]models.Event, error) {
	return s.Since(ctx, session, -1)
}

// Since implements Store.
func (s *PostgresStore) Since(ctx context.Context, session models.SessionKey, since int64) ([]models.Event, error) {
	events, err := collectEvents(s.pool.Query(ctx,
		selectColumns+` WHERE session_kind = $1 AND session_id = $2 AND ts > $3 ORDER BY ts ASC`,
		string(session.Kind), session.ID, since))
	if err != nil {
		return nil, persistErr("since", session, err)
	}
	return events, nil
}

// Latest implements Store.
func (s *PostgresStore) Latest(ctx context.Context, session models.SessionKey) (int64, error) {
	var last int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(ts), 0) FROM crossplay_events WHERE session_kind = $1 AND session_id = $2`,
		string(session.Kind), session.ID).Scan(&last)
	if err != nil {
		return 0, persistErr("latest", session, err)
	}
	return last, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func collectEvents(rows pgx.Rows, err error) ([]models.Event, error) {
	if err != nil {
		return nil, err
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Event, error) {
		var (
			e       models.Event
			kind    string
			typ     string
			payload []byte
		)
		if err := row.Scan(&kind, &e.Session.ID, &e.Timestamp, &e.EventID, &e.ActorID, &typ, &payload); err != nil {
			return models.Event{}, err
		}
		e.Session.Kind = models.SessionKind(kind)
		e.Type = models.EventType(typ)
		e.Payload = payload
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}
