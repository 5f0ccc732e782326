// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/crossplay/internal/models"
)

// flakyStore fails every call while down is set.
type flakyStore struct {
	*MemoryStore
	down  bool
	calls int
}

var errDiskGone = errors.New("disk gone")

func (f *flakyStore) Append(ctx context.Context, e models.Event) (AppendResult, error) {
	f.calls++
	if f.down {
		return AppendResult{}, errDiskGone
	}
	return f.MemoryStore.Append(ctx, e)
}

func TestResilient_OpensAfterConsecutiveFailures(t *testing.T) {
	flaky := &flakyStore{MemoryStore: NewMemoryStore(nil), down: true}
	r := NewResilient(flaky, "flaky", BreakerConfig{Failures: 3, Timeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Append(ctx, newEvent(testGame, models.TypeChat, 0))
		if !errors.Is(err, errDiskGone) {
			t.Fatalf("call %d: expected wrapped backend error, got %v", i, err)
		}
		if !IsPersistenceError(err) {
			t.Fatalf("call %d: expected PersistenceError, got %T", i, err)
		}
	}
	if r.State() != "open" {
		t.Fatalf("breaker state = %s, want open", r.State())
	}

	_, err := r.Append(ctx, newEvent(testGame, models.TypeChat, 0))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable while open, got %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("backend called %d times, want 3 (open circuit must short-circuit)", flaky.calls)
	}
	if err := r.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping while open = %v, want ErrUnavailable", err)
	}
}

func TestResilient_PassesThrough(t *testing.T) {
	r := NewResilient(NewMemoryStore(fixedClock(7)), "memory", BreakerConfig{})
	ctx := context.Background()

	e := newEvent(testRoom, models.TypeChat, 0)
	res, err := r.Append(ctx, e)
	if err != nil || res.Event.Timestamp != 7 {
		t.Fatalf("Append = %+v, %v", res, err)
	}
	dup, err := r.Append(ctx, e)
	if err != nil || !dup.Duplicate {
		t.Fatalf("duplicate Append = %+v, %v", dup, err)
	}
	events, err := r.Since(ctx, testRoom, 0)
	if err != nil || len(events) != 1 {
		t.Fatalf("Since = %v, %v", events, err)
	}
	if latest, err := r.Latest(ctx, testRoom); err != nil || latest != 7 {
		t.Fatalf("Latest = %d, %v", latest, err)
	}
	if r.State() != "closed" {
		t.Errorf("state = %s, want closed", r.State())
	}
}
