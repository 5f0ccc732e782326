// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tomtom215/crossplay/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// fakeClock is advanced manually by tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(connMax, actorMax int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(Config{
		ConnectionMaxEvents: connMax,
		ActorMaxEvents:      actorMax,
		Window:              time.Second,
		EntryTTL:            time.Minute,
		Capacity:            1000,
		EvictFraction:       0.1,
		Clock:               clock.Now,
	})
	return l, clock
}

func TestCheckAndRecord_WindowBoundary(t *testing.T) {
	l, clock := newTestLimiter(5, 100)

	for i := 0; i < 5; i++ {
		if !l.CheckAndRecord("c1", "") {
			t.Fatalf("event %d within ceiling was rejected", i+1)
		}
	}
	if l.CheckAndRecord("c1", "") {
		t.Fatal("event over ceiling was admitted")
	}

	clock.Advance(999 * time.Millisecond)
	if l.CheckAndRecord("c1", "") {
		t.Fatal("window reset too early")
	}

	clock.Advance(time.Millisecond)
	if !l.CheckAndRecord("c1", "") {
		t.Fatal("event after window elapsed was rejected")
	}
	if conn, _ := l.Counts("c1", ""); conn != 1 {
		t.Errorf("counter after reset = %d, want 1", conn)
	}
}

func TestCheckAndRecord_ActorAggregatesConnections(t *testing.T) {
	l, _ := newTestLimiter(10, 4)

	admitted := 0
	for i := 0; i < 8; i++ {
		conn := fmt.Sprintf("conn-%d", i%4)
		if l.CheckAndRecord(conn, "alice") {
			admitted++
		}
	}
	if admitted != 4 {
		t.Errorf("admitted %d events across 4 connections, want actor ceiling 4", admitted)
	}

	if !l.CheckAndRecord("conn-0", "bob") {
		t.Error("another actor on the same connection should not be affected by alice's window")
	}
}

func TestCheckAndRecord_RejectionDoesNotMutate(t *testing.T) {
	l, _ := newTestLimiter(10, 1)

	if !l.CheckAndRecord("c1", "alice") {
		t.Fatal("first event rejected")
	}
	for i := 0; i < 3; i++ {
		if l.CheckAndRecord("c1", "alice") {
			t.Fatal("actor ceiling not enforced")
		}
	}

	conn, actor := l.Counts("c1", "alice")
	if conn != 1 || actor != 1 {
		t.Errorf("counts after rejections = (%d,%d), want (1,1)", conn, actor)
	}
	if l.Len(ScopeConnection) != 1 {
		t.Errorf("rejected events created entries: %d", l.Len(ScopeConnection))
	}
}

func TestCheckAndRecord_AnonymousSkipsActorWindow(t *testing.T) {
	l, _ := newTestLimiter(3, 1)
	for i := 0; i < 3; i++ {
		if !l.CheckAndRecord("anon", "") {
			t.Fatalf("anonymous event %d rejected", i+1)
		}
	}
	if l.Len(ScopeActor) != 0 {
		t.Errorf("anonymous connection created %d actor windows", l.Len(ScopeActor))
	}
}

func TestSweep_RemovesIdleEntries(t *testing.T) {
	l, clock := newTestLimiter(10, 10)

	l.CheckAndRecord("old", "old-actor")
	clock.Advance(45 * time.Second)
	l.CheckAndRecord("fresh", "fresh-actor")
	clock.Advance(30 * time.Second)

	if removed := l.Sweep(); removed != 2 {
		t.Errorf("Sweep removed %d, want 2 (old connection and old actor)", removed)
	}
	if l.Len(ScopeConnection) != 1 || l.Len(ScopeActor) != 1 {
		t.Errorf("remaining = (%d,%d), want (1,1)", l.Len(ScopeConnection), l.Len(ScopeActor))
	}
}

func TestForget_KeepsActorWindow(t *testing.T) {
	l, _ := newTestLimiter(10, 2)
	l.CheckAndRecord("c1", "alice")
	l.CheckAndRecord("c1", "alice")
	l.Forget("c1")

	if l.CheckAndRecord("c2", "alice") {
		t.Error("reconnecting actor should still be at its ceiling within the window")
	}
	if l.Len(ScopeConnection) != 0 {
		t.Errorf("connection window not forgotten")
	}
}

func TestEviction_RemovesLeastRecentlyActive(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := New(Config{ConnectionMaxEvents: 5, ActorMaxEvents: 5, Window: time.Second,
		Capacity: 10, EvictFraction: 0.2, Clock: clock.Now})

	for i := 0; i < 10; i++ {
		l.CheckAndRecord(fmt.Sprintf("c%d", i), "")
		clock.Advance(time.Millisecond)
	}
	// Touch c0 so c1 and c2 become the oldest.
	l.CheckAndRecord("c0", "")
	clock.Advance(time.Millisecond)

	l.CheckAndRecord("new", "")

	if got := l.Len(ScopeConnection); got != 9 {
		t.Fatalf("entries after eviction = %d, want 9", got)
	}
	for id, wantPresent := range map[string]bool{"c0": true, "c1": false, "c2": false, "c3": true, "new": true} {
		conn, _ := l.Counts(id, "")
		if (conn > 0) != wantPresent {
			t.Errorf("%s present = %v, want %v", id, conn > 0, wantPresent)
		}
	}
}

func TestProperty_CapacityNeverExceeded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("live entries stay within capacity and evict oldest first", prop.ForAll(
		func(capacity int, inserts int, fraction float64) bool {
			clock := &fakeClock{t: time.Unix(0, 0)}
			l := New(Config{ConnectionMaxEvents: 1, ActorMaxEvents: 1, Window: time.Hour,
				Capacity: capacity, EvictFraction: fraction, Clock: clock.Now})

			for i := 0; i < inserts; i++ {
				l.CheckAndRecord(fmt.Sprintf("c%d", i), "")
				clock.Advance(time.Millisecond)
				if l.Len(ScopeConnection) > capacity {
					return false
				}
			}

			// Survivors must be a suffix of insertion order: nothing newer
			// was evicted while something older survived.
			seenSurvivor := false
			for i := 0; i < inserts; i++ {
				conn, _ := l.Counts(fmt.Sprintf("c%d", i), "")
				if conn > 0 {
					seenSurvivor = true
				} else if seenSurvivor {
					return false
				}
			}
			return inserts == 0 || seenSurvivor
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 300),
		gen.Float64Range(0.01, 1.0),
	))

	properties.TestingRun(t)
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	l := New(Config{SweepInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.RunSweeper(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunSweeper returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not stop")
	}
}
