// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/crossplay/internal/auth"
	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/metrics"
	"github.com/tomtom215/crossplay/internal/models"
)

// clientIDCounter generates unique, monotonically increasing IDs for clients.
// DETERMINISM: broadcasts visit recipients in this order.
var clientIDCounter atomic.Uint64

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)

// Client is one realtime connection: a read pump feeding the gateway and a
// write pump draining the send queue.
type Client struct {
	// id orders clients deterministically; connID is the public identifier.
	id         uint64
	connID     string
	remoteAddr string

	gateway *Gateway
	conn    *websocket.Conn
	send    chan outbound

	// syncLimiter bounds requestFullSync/requestIncrementalSync.
	syncLimiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	principal   auth.Principal
	memberships map[models.SessionKey]time.Time

	closeOnce   sync.Once
	done        chan struct{}
	writerDone  chan struct{}
	closeCode   int
	closeReason string
}

func newClient(g *Gateway, conn *websocket.Conn, p auth.Principal, remoteAddr string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	connID := uuid.NewString()
	ctx = logging.ContextWithConnectionID(ctx, connID)
	return &Client{
		id:          clientIDCounter.Add(1),
		connID:      connID,
		remoteAddr:  remoteAddr,
		gateway:     g,
		conn:        conn,
		send:        make(chan outbound, g.opts.SendBuffer),
		syncLimiter: rate.NewLimiter(g.opts.SyncRate, g.opts.SyncBurst),
		ctx:         ctx,
		cancel:      cancel,
		principal:   p,
		memberships: make(map[models.SessionKey]time.Time),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
	}
}

// ID returns the client's unique identifier for deterministic ordering
func (c *Client) ID() uint64 {
	return c.id
}

// ConnectionID returns the connection identifier used by the registry and
// the rate limiter.
func (c *Client) ConnectionID() string {
	return c.connID
}

// Principal returns the identity bound to the connection.
func (c *Client) Principal() auth.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal
}

func (c *Client) setPrincipal(p auth.Principal) {
	c.mu.Lock()
	c.principal = p
	c.mu.Unlock()
}

// Done is closed once the connection is being torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close starts an orderly shutdown: queued frames are flushed, then a close
// frame with code and reason is written. Safe to call more than once.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
		c.cancel()
	})
}

// trySend queues a frame without blocking.
func (c *Client) trySend(msg outbound) sendResult {
	if c.closed() {
		return sendClosed
	}
	select {
	case c.send <- msg:
		return sendOK
	default:
		return sendFull
	}
}

// deliver queues msg and treats a full queue as a slow consumer.
func (c *Client) deliver(msg outbound) bool {
	switch c.trySend(msg) {
	case sendOK:
		return true
	case sendFull:
		metrics.WSSlowConsumerDisconnects.Inc()
		logging.Ctx(c.ctx).Warn().
			Str("actor_id", c.Principal().ActorID).
			Int("buffer", cap(c.send)).
			Msg("send buffer full, disconnecting slow consumer")
		c.Close(websocket.CloseTryAgainLater, "slow consumer")
	}
	return false
}

// reply encodes and queues a response frame.
func (c *Client) reply(typ, requestID string, payload interface{}) bool {
	msg, err := encodeFrame(typ, requestID, payload)
	if err != nil {
		logging.Ctx(c.ctx).Error().Err(err).Str("type", typ).Msg("failed to encode frame")
		return false
	}
	return c.deliver(msg)
}

func (c *Client) replyError(requestID string, notice ErrorNotice) {
	metrics.WSErrors.WithLabelValues(notice.Code).Inc()
	c.reply(MessageTypeErrorNotice, requestID, notice)
}

func (c *Client) addMembership(key models.SessionKey, at time.Time) {
	c.mu.Lock()
	c.memberships[key] = at
	c.mu.Unlock()
}

func (c *Client) removeMembership(key models.SessionKey) {
	c.mu.Lock()
	delete(c.memberships, key)
	c.mu.Unlock()
}

func (c *Client) isMember(key models.SessionKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.memberships[key]
	return ok
}

// Sessions returns the sessions the connection is joined to.
func (c *Client) Sessions() []models.SessionKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]models.SessionKey, 0, len(c.memberships))
	for k := range c.memberships {
		keys = append(keys, k)
	}
	return keys
}

// readPump pumps messages from the websocket connection to the gateway
func (c *Client) readPump() {
	defer func() {
		c.gateway.disconnect(c)
		// Let the writer flush a pending errorNotice and close frame first.
		select {
		case <-c.writerDone:
		case <-time.After(2 * c.gateway.opts.WriteWait):
		}
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	opts := c.gateway.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(opts.PongWait)); err != nil {
		logging.Ctx(c.ctx).Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Ctx(c.ctx).Warn().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
		c.gateway.handle(c, data)
		if c.closed() {
			return
		}
	}
}

// writePump pumps messages from the send queue to the websocket connection
func (c *Client) writePump() {
	opts := c.gateway.opts
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
		close(c.writerDone)
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait)); err != nil {
				logging.Ctx(c.ctx).Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.flushAndClose()
			return
		}
	}
}

func (c *Client) write(msg outbound) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.gateway.opts.WriteWait)); err != nil {
		logging.Ctx(c.ctx).Error().Err(err).Msg("failed to set write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
		logging.Ctx(c.ctx).Debug().Err(err).Msg("failed to write frame")
		return false
	}
	metrics.WSMessagesSent.WithLabelValues(msg.typ).Inc()
	return true
}

// closeInfo returns the close code and reason recorded by Close.
func (c *Client) closeInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// flushAndClose writes frames that were queued before Close, so that an
// errorNotice reaches the peer ahead of the close frame.
func (c *Client) flushAndClose() {
	for {
		select {
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
			continue
		default:
		}
		break
	}

	code, reason := c.closeInfo()
	deadline := time.Now().Add(c.gateway.opts.WriteWait)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// Start begins reading and writing for the client
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
