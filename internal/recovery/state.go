// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package recovery

import (
	"fmt"
	"sync"

	"github.com/tomtom215/crossplay/internal/metrics"
)

// State is a connection state of the coordinator.
type State int

// Coordinator states.
const (
	StateDisconnected State = iota
	StateReconnecting
	StateSyncing
	StateConnected
	// StateFailed is terminal: the retry budget is exhausted.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateSyncing:
		return "SYNCING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TransitionError reports a transition the state machine does not allow.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

var transitions = map[State][]State{
	StateDisconnected: {StateReconnecting, StateFailed},
	StateReconnecting: {StateSyncing, StateDisconnected},
	StateSyncing:      {StateConnected, StateDisconnected},
	StateConnected:    {StateDisconnected},
	StateFailed:       nil,
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine holds the current state and fans transitions out to subscribers.
// Subscribers that fall behind miss intermediate states, never the latest.
type machine struct {
	mu    sync.Mutex
	state State
	subs  []chan State
}

func newMachine() *machine {
	return &machine{state: StateDisconnected}
}

func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves to next, or returns a *TransitionError and leaves the
// state untouched.
func (m *machine) transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !allowed(m.state, next) {
		return &TransitionError{From: m.state, To: next}
	}
	metrics.RecoveryTransitions.WithLabelValues(m.state.String(), next.String()).Inc()
	m.state = next
	for _, ch := range m.subs {
		select {
		case ch <- next:
		default:
			// Drop the stale value so the newest state is delivered.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
	return nil
}

func (m *machine) subscribe(buffer int) <-chan State {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}
