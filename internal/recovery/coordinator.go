// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/metrics"
	"github.com/tomtom215/crossplay/internal/models"
	wsproto "github.com/tomtom215/crossplay/internal/websocket"
)

// Errors returned by the coordinator.
var (
	// ErrFailed is returned by Run once MaxAttempts consecutive connection
	// attempts failed. The coordinator is then in StateFailed for good.
	ErrFailed    = errors.New("reconnect attempts exhausted")
	ErrNoDialer  = errors.New("no dialer configured")
	ErrNotJoined = errors.New("session has not been joined")
)

// SyncApplicationError wraps an Applier failure for one event. It is logged
// and the remaining events are still applied.
type SyncApplicationError struct {
	Event models.Event
	Err   error
}

func (e *SyncApplicationError) Error() string {
	return fmt.Sprintf("apply %s event %s at %d: %v", e.Event.Type, e.Event.EventID, e.Event.Timestamp, e.Err)
}

func (e *SyncApplicationError) Unwrap() error {
	return e.Err
}

// Applier is the consuming game-state reducer. Events for a session arrive
// in timestamp order, each at most once. Apply runs on the coordinator's read
// loop and must not block on the coordinator.
type Applier interface {
	Apply(models.Event) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(models.Event) error

// Apply implements Applier.
func (f ApplierFunc) Apply(e models.Event) error {
	return f(e)
}

// Submission pacing defaults. Any one-second window holds at most
// DefaultSubmitBurst+DefaultSubmitRate = 38 submissions, under the gateway's
// default per-actor ceiling of 40 events per second.
const (
	DefaultSubmitRate  rate.Limit = 30
	DefaultSubmitBurst            = 8
)

// Config configures a Coordinator.
type Config struct {
	Dialer  Dialer
	Applier Applier
	// MaxAttempts caps consecutive failed connection attempts.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// SubmitRate and SubmitBurst pace every submission write, replays
	// included. Keep SubmitBurst plus one window's worth of SubmitRate below
	// the gateway's rate limit ceilings or a replay burst gets the transport
	// closed.
	SubmitRate  rate.Limit
	SubmitBurst int
}

const syncRequestPrefix = "sync:"

type sessionState struct {
	last int64
	// syncing is set while a sync response is outstanding; live events are
	// buffered until it arrives.
	syncing  bool
	buffered []models.Event
}

// Coordinator keeps a client's view of its sessions consistent across
// transport loss: it reconnects with backoff, catches up each joined session
// from its last applied timestamp and replays unacknowledged submissions.
type Coordinator struct {
	cfg     Config
	sm      *machine
	pending *PendingQueue
	pacer   *rate.Limiter
	kick    chan struct{}
	log     zerolog.Logger

	mu           sync.Mutex
	sessions     map[models.SessionKey]*sessionState
	conn         Conn
	gen          uint64
	phaseSyncing bool
	replaying    bool
	replayed     int
	outstanding  int
	established  bool
}

// NewCoordinator creates a coordinator in StateDisconnected.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 30 * time.Second
		if cfg.MaxBackoff < cfg.InitialBackoff {
			cfg.MaxBackoff = cfg.InitialBackoff
		}
	}
	if cfg.Applier == nil {
		cfg.Applier = ApplierFunc(func(models.Event) error { return nil })
	}
	if cfg.SubmitRate <= 0 {
		cfg.SubmitRate = DefaultSubmitRate
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = DefaultSubmitBurst
	}
	return &Coordinator{
		cfg:      cfg,
		sm:       newMachine(),
		pending:  NewPendingQueue(),
		pacer:    rate.NewLimiter(cfg.SubmitRate, cfg.SubmitBurst),
		kick:     make(chan struct{}, 1),
		log:      logging.WithComponent("recovery"),
		sessions: make(map[models.SessionKey]*sessionState),
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	return c.sm.current()
}

// StateChanges returns a channel that receives every later state. A slow
// reader may miss intermediate states but always sees the latest.
func (c *Coordinator) StateChanges() <-chan State {
	return c.sm.subscribe(16)
}

// Pending returns the number of unacknowledged submissions.
func (c *Coordinator) Pending() int {
	return c.pending.Len()
}

// LastApplied returns the timestamp of the last event applied for a session.
func (c *Coordinator) LastApplied(kind models.SessionKind, id string) (int64, bool) {
	key := models.SessionKey{Kind: kind, ID: id}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessions[key]
	if !ok {
		return 0, false
	}
	return st.last, st.last > 0
}

// Join remembers a session. It is joined and synced now when a transport is
// up, and again after every reconnect.
func (c *Coordinator) Join(kind models.SessionKind, id string) error {
	key, err := models.NewSessionKey(string(kind), id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[key]; ok {
		return nil
	}
	st := &sessionState{}
	c.sessions[key] = st
	if c.conn == nil {
		return nil
	}
	if c.phaseSyncing {
		c.outstanding++
	}
	return c.syncSessionLocked(c.conn, key, st)
}

// Leave forgets a session.
func (c *Coordinator) Leave(kind models.SessionKind, id string) error {
	key, err := models.NewSessionKey(string(kind), id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessions[key]
	if !ok {
		return nil
	}
	delete(c.sessions, key)
	if c.conn == nil {
		return nil
	}
	if err := c.writeLocked(c.conn, wsproto.MessageTypeLeave, "", wsproto.RefOf(key)); err != nil {
		return err
	}
	if st.syncing && c.phaseSyncing {
		c.finishOneLocked()
		if c.outstanding == 0 {
			c.finishSyncLocked()
		}
	}
	return nil
}

// Submit queues draft for a joined session. It is sent at the paced rate
// when connected, otherwise on the next replay, and stays queued until
// acked.
func (c *Coordinator) Submit(kind models.SessionKind, id string, draft models.Draft) error {
	key, err := models.NewSessionKey(string(kind), id)
	if err != nil {
		return err
	}
	if c.sm.current() == StateFailed {
		return ErrFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[key]; !ok {
		return ErrNotJoined
	}
	if c.pending.Add(PendingEvent{Session: key, Draft: draft}) {
		c.wake()
	}
	return nil
}

// Run drives the state machine until ctx is done or the retry budget is
// exhausted, in which case it returns ErrFailed.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.cfg.Dialer == nil {
		return ErrNoDialer
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.sm.transition(StateReconnecting); err != nil {
			return err
		}
		attempts++

		conn, err := c.cfg.Dialer.Dial(ctx)
		if err == nil {
			var established bool
			established, err = c.serve(ctx, conn)
			_ = conn.Close()
			if established {
				attempts = 0
				b.Reset()
			}
		}
		if terr := c.sm.transition(StateDisconnected); terr != nil {
			return terr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempts >= c.cfg.MaxAttempts {
			_ = c.sm.transition(StateFailed)
			c.log.Error().
				Err(err).
				Int("attempts", attempts).
				Int("pending", c.pending.Len()).
				Msg("giving up reconnecting; client is out of sync")
			return ErrFailed
		}

		wait := b.NextBackOff()
		c.log.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("transport lost, reconnecting")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// serve catches up on conn and then reads until it breaks. It reports
// whether the coordinator reached StateConnected on this transport.
func (c *Coordinator) serve(ctx context.Context, conn Conn) (bool, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := c.sm.transition(StateSyncing); err != nil {
		return false, err
	}
	gen, err := c.beginSync(conn)
	if err != nil {
		c.detach()
		return false, err
	}

	sendCtx, cancelSend := context.WithCancel(ctx)
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		c.sendLoop(sendCtx, conn, gen)
	}()
	defer func() {
		cancelSend()
		<-sent
	}()

	for {
		f, err := conn.ReadFrame()
		if err == nil {
			err = c.handle(f)
		}
		if err != nil {
			return c.detach(), err
		}
	}
}

// beginSync attaches conn as a new transport generation and requests
// catch-up for every joined session.
func (c *Coordinator) beginSync(conn Conn) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.conn = conn
	c.phaseSyncing = true
	c.replaying = false
	c.replayed = 0
	c.established = false
	c.outstanding = len(c.sessions)
	for key, st := range c.sessions {
		if err := c.syncSessionLocked(conn, key, st); err != nil {
			return c.gen, err
		}
	}
	if c.outstanding == 0 {
		c.finishSyncLocked()
	}
	return c.gen, nil
}

// detach drops the transport and reports whether it had been established.
func (c *Coordinator) detach() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
	c.phaseSyncing = false
	c.replaying = false
	c.outstanding = 0
	for _, st := range c.sessions {
		st.syncing = false
		st.buffered = nil
	}
	return c.established
}

// syncSessionLocked joins key and asks for the events after its last applied
// timestamp, or for the full history when nothing was applied yet.
func (c *Coordinator) syncSessionLocked(conn Conn, key models.SessionKey, st *sessionState) error {
	st.syncing = true
	st.buffered = nil
	ref := wsproto.RefOf(key)
	if err := c.writeLocked(conn, wsproto.MessageTypeJoin, "join:"+key.String(), ref); err != nil {
		return err
	}
	if st.last > 0 {
		return c.writeLocked(conn, wsproto.MessageTypeRequestIncrementalSync, syncRequestPrefix+key.String(),
			wsproto.IncrementalSyncRequest{SessionRef: ref, Since: st.last})
	}
	return c.writeLocked(conn, wsproto.MessageTypeRequestFullSync, syncRequestPrefix+key.String(), ref)
}

func (c *Coordinator) finishOneLocked() {
	if c.outstanding > 0 {
		c.outstanding--
	}
}

// finishSyncLocked ends catch-up and hands the pending queue to the sender,
// which enters StateConnected once every entry has been written.
func (c *Coordinator) finishSyncLocked() {
	c.phaseSyncing = false
	c.replaying = true
	c.wake()
}

func (c *Coordinator) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// sendLoop writes pending submissions on transport generation gen, oldest
// first and no faster than the pacer allows.
func (c *Coordinator) sendLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		pe, ok, err := c.nextSubmission(gen)
		if err != nil {
			c.log.Error().Err(err).Msg("cannot enter connected state")
			_ = conn.Close()
			return
		}
		if !ok {
			select {
			case <-c.kick:
				continue
			case <-ctx.Done():
				return
			}
		}

		if err := c.pacer.Wait(ctx); err != nil {
			return
		}
		if err := c.writeSubmission(gen, pe); err != nil {
			// Kept pending; the read loop notices the broken transport.
			c.log.Debug().Err(err).Str("event_id", pe.Draft.EventID).Msg("submit deferred")
			_ = conn.Close()
			return
		}
	}
}

// nextSubmission returns the next entry to write on gen. When a replay has
// nothing left to write it completes the move to StateConnected.
func (c *Coordinator) nextSubmission(gen uint64) (PendingEvent, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.conn == nil || c.phaseSyncing {
		return PendingEvent{}, false, nil
	}
	if pe, ok := c.pending.Next(gen); ok {
		return pe, true, nil
	}
	if !c.replaying {
		return PendingEvent{}, false, nil
	}

	if err := c.sm.transition(StateConnected); err != nil {
		return PendingEvent{}, false, err
	}
	c.replaying = false
	c.established = true
	c.log.Info().
		Int("sessions", len(c.sessions)).
		Int("replayed", c.replayed).
		Msg("client in sync")
	return PendingEvent{}, false, nil
}

func (c *Coordinator) writeSubmission(gen uint64, pe PendingEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.conn == nil {
		return nil
	}
	if !c.pending.MarkSent(pe.Draft.EventID, gen) {
		return nil
	}
	if c.replaying {
		c.replayed++
		metrics.RecoveryReplayedEvents.Inc()
	}
	return c.sendSubmitLocked(c.conn, pe.Session, pe.Draft)
}

func (c *Coordinator) sendSubmitLocked(conn Conn, key models.SessionKey, draft models.Draft) error {
	return c.writeLocked(conn, wsproto.MessageTypeSubmitEvent, draft.EventID,
		wsproto.SubmitEventRequest{SessionRef: wsproto.RefOf(key), Event: draft})
}

func (c *Coordinator) writeLocked(conn Conn, typ, requestID string, payload interface{}) error {
	f, err := wsproto.NewFrame(typ, requestID, payload)
	if err != nil {
		return err
	}
	return conn.WriteFrame(f)
}

// handle processes one frame from the gateway. A returned error tears the
// transport down.
func (c *Coordinator) handle(f wsproto.Frame) error {
	switch f.Type {
	case wsproto.MessageTypeFullSyncResponse, wsproto.MessageTypeIncrementalSyncResponse:
		var resp wsproto.SyncResponse
		if err := json.Unmarshal(f.Payload, &resp); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}
		key, err := resp.Key()
		if err != nil {
			return err
		}
		return c.applySync(key, resp.Events)

	case wsproto.MessageTypeEventBroadcast:
		var b wsproto.EventBroadcast
		if err := json.Unmarshal(f.Payload, &b); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}
		if key, err := b.Key(); err == nil {
			c.applyLive(key, b.Event)
		}

	case wsproto.MessageTypeAck:
		var ack wsproto.AckResponse
		if err := json.Unmarshal(f.Payload, &ack); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}
		c.pending.Remove(ack.Event.EventID)
		if key, err := ack.Key(); err == nil {
			c.applyLive(key, ack.Event)
		}

	case wsproto.MessageTypeErrorNotice:
		var notice wsproto.ErrorNotice
		if err := json.Unmarshal(f.Payload, &notice); err != nil {
			return fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return c.handleNotice(f.RequestID, notice)
	}
	return nil
}

func (c *Coordinator) handleNotice(requestID string, notice wsproto.ErrorNotice) error {
	if strings.HasPrefix(requestID, syncRequestPrefix) {
		// Catch-up must complete before replay; start over on a new transport.
		return fmt.Errorf("sync %s failed: %s: %s", strings.TrimPrefix(requestID, syncRequestPrefix), notice.Code, notice.Message)
	}
	if notice.Code == wsproto.CodeRateLimited {
		// The gateway closes the transport; the entry is written again on
		// the next one.
		c.log.Warn().
			Str("event_id", requestID).
			Int("pending", c.pending.Len()).
			Msg("submission rate limited, kept for replay")
		return nil
	}
	if !notice.Retryable && c.pending.Remove(requestID) {
		c.log.Warn().
			Str("event_id", requestID).
			Str("code", notice.Code).
			Str("message", notice.Message).
			Msg("submission rejected, dropped from pending queue")
		return nil
	}
	c.log.Debug().
		Str("request_id", requestID).
		Str("code", notice.Code).
		Bool("retryable", notice.Retryable).
		Msg("gateway error notice")
	return nil
}

// applySync applies a sync response and then the live events buffered while
// it was outstanding.
func (c *Coordinator) applySync(key models.SessionKey, events []models.Event) error {
	c.mu.Lock()
	st, ok := c.sessions[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	batch := c.admitLocked(st, events)
	batch = append(batch, c.admitLocked(st, st.buffered)...)
	wasSyncing := st.syncing
	st.syncing = false
	st.buffered = nil

	if wasSyncing && c.phaseSyncing {
		c.finishOneLocked()
		if c.outstanding == 0 {
			c.finishSyncLocked()
		}
	}
	c.mu.Unlock()

	c.apply(batch)
	return nil
}

func (c *Coordinator) applyLive(key models.SessionKey, e models.Event) {
	c.mu.Lock()
	st, ok := c.sessions[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if st.syncing {
		st.buffered = append(st.buffered, e)
		c.mu.Unlock()
		return
	}
	batch := c.admitLocked(st, []models.Event{e})
	c.mu.Unlock()

	c.apply(batch)
}

// admitLocked filters out events at or before the last applied timestamp
// and advances it. Timestamps are strictly increasing per session, so this
// drops exactly the events already applied.
func (c *Coordinator) admitLocked(st *sessionState, events []models.Event) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, e := range events {
		if e.Timestamp <= st.last {
			continue
		}
		st.last = e.Timestamp
		out = append(out, e)
	}
	return out
}

// apply hands events to the Applier. A failing event is logged and skipped.
func (c *Coordinator) apply(events []models.Event) {
	for _, e := range events {
		if err := c.cfg.Applier.Apply(e); err != nil {
			serr := &SyncApplicationError{Event: e, Err: err}
			metrics.RecoveryApplyFailures.Inc()
			c.log.Warn().
				Err(serr).
				Str("session", e.Session.String()).
				Msg("event could not be applied, skipping")
		}
	}
}
