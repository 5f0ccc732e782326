// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package recovery

import (
	"sync"
	"time"

	"github.com/tomtom215/crossplay/internal/models"
)

// PendingEvent is a submission that has not been acknowledged yet.
type PendingEvent struct {
	Session  models.SessionKey
	Draft    models.Draft
	QueuedAt time.Time
	Attempts int

	// sentOn is the transport generation the event was last written to.
	sentOn uint64
}

// PendingQueue keeps unacknowledged submissions in submission order, keyed
// by event id. Replaying an entry is safe because the server deduplicates
// on event id.
type PendingQueue struct {
	mu    sync.Mutex
	order []string
	items map[string]*PendingEvent
}

// NewPendingQueue creates an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{items: make(map[string]*PendingEvent)}
}

// Add queues ev. Adding an event id that is already queued is a no-op and
// returns false.
func (q *PendingQueue) Add(ev PendingEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[ev.Draft.EventID]; ok {
		return false
	}
	if ev.QueuedAt.IsZero() {
		ev.QueuedAt = time.Now()
	}
	q.items[ev.Draft.EventID] = &ev
	q.order = append(q.order, ev.Draft.EventID)
	return true
}

// Remove drops eventID and reports whether it was queued.
func (q *PendingQueue) Remove(eventID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[eventID]; !ok {
		return false
	}
	delete(q.items, eventID)
	for i, id := range q.order {
		if id == eventID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Next returns the oldest event not yet written on transport generation gen.
func (q *PendingQueue) Next(gen uint64) (PendingEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		if ev := q.items[id]; ev.sentOn != gen {
			return *ev, true
		}
	}
	return PendingEvent{}, false
}

// MarkSent records a write of eventID on generation gen and counts one more
// send attempt. It reports false when the event is no longer queued.
func (q *PendingQueue) MarkSent(eventID string, gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ev, ok := q.items[eventID]
	if !ok {
		return false
	}
	ev.sentOn = gen
	ev.Attempts++
	return true
}

// Len returns the number of queued events.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
