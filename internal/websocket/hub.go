// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package websocket

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/metrics"
	"github.com/tomtom215/crossplay/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	// This is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Hub is the session registry and broadcast router. Memberships are sharded
// by session key so that joins, leaves and broadcasts on unrelated sessions
// never contend on one lock.
type Hub struct {
	shards []*hubShard

	mu      sync.RWMutex
	clients map[string]*Client
}

type hubShard struct {
	mu       sync.RWMutex
	sessions map[models.SessionKey]map[string]*Client
}

// NewHub creates a Hub with the given number of shards.
func NewHub(shards int) *Hub {
	if shards < 1 {
		shards = 1
	}
	h := &Hub{
		shards:  make([]*hubShard, shards),
		clients: make(map[string]*Client),
	}
	for i := range h.shards {
		h.shards[i] = &hubShard{sessions: make(map[models.SessionKey]map[string]*Client)}
	}
	return h
}

// shardIndex maps a session to one of n shards. The dispatcher uses the same
// mapping so a session's registry shard and worker line up.
func shardIndex(key models.SessionKey, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.Kind))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(key.ID))
	return int(h.Sum32() % uint32(n)) //nolint:gosec // n is a small positive shard count
}

func (h *Hub) shard(key models.SessionKey) *hubShard {
	return h.shards[shardIndex(key, len(h.shards))]
}

// Register adds a live connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.connID] = c
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	logging.Ctx(c.ctx).Info().
		Str("actor_id", c.Principal().ActorID).
		Str("remote_addr", c.remoteAddr).
		Int("total_clients", total).
		Msg("websocket client connected")
}

// Unregister removes a connection and all of its memberships. It reports
// whether the connection was registered.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	_, ok := h.clients[c.connID]
	delete(h.clients, c.connID)
	total := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return false
	}

	left := h.LeaveAll(c)
	metrics.WSConnections.Dec()
	logging.Ctx(c.ctx).Info().
		Int("sessions_left", left).
		Int("total_clients", total).
		Msg("websocket client disconnected")
	return true
}

// Join registers c in session key. Joining twice is a no-op; the return
// value reports whether a new membership was created.
func (h *Hub) Join(c *Client, key models.SessionKey) bool {
	s := h.shard(key)
	s.mu.Lock()
	members, ok := s.sessions[key]
	if !ok {
		members = make(map[string]*Client)
		s.sessions[key] = members
		metrics.SessionsActive.Inc()
	}
	if _, exists := members[c.connID]; exists {
		s.mu.Unlock()
		return false
	}
	members[c.connID] = c
	s.mu.Unlock()

	c.addMembership(key, time.Now())
	metrics.SessionMemberships.Inc()
	return true
}

// Leave removes c from session key. Leaving a session that was never joined
// is a no-op.
func (h *Hub) Leave(c *Client, key models.SessionKey) bool {
	s := h.shard(key)
	s.mu.Lock()
	members, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if _, exists := members[c.connID]; !exists {
		s.mu.Unlock()
		return false
	}
	delete(members, c.connID)
	if len(members) == 0 {
		delete(s.sessions, key)
		metrics.SessionsActive.Dec()
	}
	s.mu.Unlock()

	c.removeMembership(key)
	metrics.SessionMemberships.Dec()
	return true
}

// LeaveAll removes every membership of c and returns how many were removed.
func (h *Hub) LeaveAll(c *Client) int {
	n := 0
	for _, key := range c.Sessions() {
		if h.Leave(c, key) {
			n++
		}
	}
	return n
}

// Broadcast queues msg for every connection joined to key except the one
// whose connection id is exclude. Delivery never blocks: a recipient with a
// full queue is disconnected and the others are unaffected. It returns the
// number of recipients the frame was queued for.
func (h *Hub) Broadcast(key models.SessionKey, msg outbound, exclude string) int {
	s := h.shard(key)
	s.mu.RLock()
	members := s.sessions[key]
	recipients := make([]*Client, 0, len(members))
	for id, c := range members {
		if id != exclude {
			recipients = append(recipients, c)
		}
	}
	s.mu.RUnlock()

	delivered := 0
	for _, c := range recipients {
		if c.deliver(msg) {
			delivered++
		}
	}
	metrics.BroadcastDeliveries.Add(float64(delivered))
	return delivered
}

// Members returns the connection ids joined to key, sorted.
func (h *Hub) Members(key models.SessionKey) []string {
	s := h.shard(key)
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions[key]))
	for id := range s.sessions[key] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// IsMember reports whether connection connID is joined to key.
func (h *Hub) IsMember(connID string, key models.SessionKey) bool {
	s := h.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[key][connID]
	return ok
}

// SessionCount returns the number of sessions with at least one member.
func (h *Hub) SessionCount() int {
	n := 0
	for _, s := range h.shards {
		s.mu.RLock()
		n += len(s.sessions)
		s.mu.RUnlock()
	}
	return n
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunWithContext blocks until ctx is canceled and then closes every
// connected client. It is designed for use with suture supervision.
func (h *Hub) RunWithContext(ctx context.Context) error {
	<-ctx.Done()
	h.logGracefulShutdown(ctx)
	return ctx.Err()
}

// logGracefulShutdown closes all clients and logs the shutdown. ctx.Err() is
// not logged as an error: cancellation is the expected path.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()

	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

// getShutdownReason determines the shutdown reason from the context error.
func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// closeAllClients asks every client to close with "going away".
func (h *Hub) closeAllClients() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}
