// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package eventstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/models"
)

// Key layout. Session ids never contain '/', so each prefix is unambiguous.
//
//	ev/<kind>/<id>/<20-digit timestamp>  -> JSON event
//	id/<kind>/<id>/<eventId>             -> timestamp (big endian)
//	last/<kind>/<id>                     -> timestamp (big endian)
const (
	prefixEvent = "ev/"
	prefixID    = "id/"
	prefixLast  = "last/"

	maxConflictRetries = 5
)

// BadgerConfig configures the embedded BadgerDB backend.
type BadgerConfig struct {
	Path string

	// SyncWrites fsyncs every commit. Required for durability across power loss.
	SyncWrites bool

	// InMemory runs BadgerDB without touching disk (tests only).
	InMemory bool

	Clock Clock
}

// BadgerStore persists session logs in BadgerDB.
type BadgerStore struct {
	db    *badger.DB
	clock Clock

	// Appends to one session take the same stripe so they rarely hit ErrConflict.
	stripes [64]sync.Mutex
}

// OpenBadger opens (or creates) a BadgerDB event store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = systemClock
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Bool("in_memory", cfg.InMemory).
		Msg("Event store opened (badger)")
	return &BadgerStore{db: db, clock: clock}, nil
}

func sessionPath(session models.SessionKey) string {
	return string(session.Kind) + "/" + session.ID + "/"
}

func eventKey(session models.SessionKey, ts int64) []byte {
	return []byte(fmt.Sprintf("%s%s%020d", prefixEvent, sessionPath(session), ts))
}

func eventPrefix(session models.SessionKey) []byte {
	return []byte(prefixEvent + sessionPath(session))
}

func idKey(session models.SessionKey, eventID string) []byte {
	return []byte(prefixID + sessionPath(session) + eventID)
}

func lastKey(session models.SessionKey) []byte {
	return []byte(prefixLast + string(session.Kind) + "/" + session.ID)
}

func encodeTS(ts int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ts))
	return b
}

func readTS(txn *badger.Txn, key []byte) (int64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var ts int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt timestamp at %q", key)
		}
		ts = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return ts, true, err
}

func readEvent(item *badger.Item) (models.Event, error) {
	var e models.Event
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	return e, err
}

func (s *BadgerStore) stripe(session models.SessionKey) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(session.String()))
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

// Append implements Store.
//
//nolint:gocritic // models.Event is passed by value per the Store interface
func (s *BadgerStore) Append(ctx context.Context, e models.Event) (AppendResult, error) {
	if err := validateEvent(&e); err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}

	mu := s.stripe(e.Session)
	mu.Lock()
	defer mu.Unlock()

	var (
		result AppendResult
		err    error
	)
	proposed := e.Timestamp
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			ts, found, err := readTS(txn, idKey(e.Session, e.EventID))
			if err != nil {
				return err
			}
			if found {
				item, err := txn.Get(eventKey(e.Session, ts))
				if err != nil {
					return fmt.Errorf("load duplicate %s: %w", e.EventID, err)
				}
				stored, err := readEvent(item)
				if err != nil {
					return err
				}
				result = AppendResult{Event: stored, Duplicate: true}
				return nil
			}

			last, _, err := readTS(txn, lastKey(e.Session))
			if err != nil {
				return err
			}
			if e.Timestamp, err = NextTimestamp(proposed, last, s.clock().UnixMilli()); err != nil {
				return err
			}

			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			tsBytes := encodeTS(e.Timestamp)
			if err := txn.Set(eventKey(e.Session, e.Timestamp), data); err != nil {
				return err
			}
			if err := txn.Set(idKey(e.Session, e.EventID), tsBytes); err != nil {
				return err
			}
			if err := txn.Set(lastKey(e.Session), tsBytes); err != nil {
				return err
			}
			result = AppendResult{Event: e}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return AppendResult{}, persistErr("append", e.Session, err)
	}
	return result, nil
}

// All implements Store.
func (s *BadgerStore) All(ctx context.Context, session models.SessionKey) ([]models.Event, error) {
	return s.Since(ctx, session, -1)
}

// Since implements Store.
func (s *BadgerStore) Since(_ context.Context, session models.SessionKey, since int64) ([]models.Event, error) {
	events := []models.Event{}
	prefix := eventPrefix(session)
	start := prefix
	if since >= 0 {
		start = eventKey(session, since+1)
	}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			e, err := readEvent(it.Item())
			if err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("since", session, err)
	}
	return events, nil
}

// Latest implements Store.
func (s *BadgerStore) Latest(_ context.Context, session models.SessionKey) (int64, error) {
	var last int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		last, _, err = readTS(txn, lastKey(session))
		return err
	})
	if err != nil {
		return 0, persistErr("latest", session, err)
	}
	return last, nil
}

// Ping implements Store.
func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Event store closed (badger)")
	return nil
}

// RunGC reclaims value log space every interval until ctx is done.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rounds := 0
			for s.db.RunValueLogGC(0.5) == nil {
				rounds++
			}
			if rounds > 0 {
				logging.Debug().Int("rounds", rounds).Msg("Badger value log GC reclaimed space")
			}
		}
	}
}
