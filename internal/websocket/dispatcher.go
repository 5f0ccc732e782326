// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/crossplay/internal/eventstore"
	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/metrics"
	"github.com/tomtom215/crossplay/internal/models"
)

// ErrDispatcherStopped is returned by Submit when the dispatcher is not running.
var ErrDispatcherStopped = errors.New("dispatcher not running")

// appendTimeout bounds one append. The append runs detached from the
// submitting connection so a disconnect never aborts it mid-write.
const appendTimeout = 10 * time.Second

// DispatchResult is handed to a job's completion callback.
type DispatchResult struct {
	Result eventstore.AppendResult
	Err    error
	// Recipients is the number of connections the broadcast was queued for.
	Recipients int
}

type dispatchJob struct {
	event    models.Event
	originID string
	enqueued time.Time
	done     func(DispatchResult)
}

// Dispatcher serializes append+broadcast per session. Every session maps to
// exactly one shard worker, so two events of one session are never appended
// or broadcast concurrently, while distinct sessions proceed in parallel.
type Dispatcher struct {
	store      eventstore.Store
	hub        *Hub
	echo       bool
	shardCount int
	queueDepth int

	mu      sync.RWMutex
	shards  []chan dispatchJob
	stopped bool
	wg      sync.WaitGroup
}

// DispatcherConfig sizes a Dispatcher.
type DispatcherConfig struct {
	Shards     int
	QueueDepth int
	// OriginatorEcho also broadcasts an event to the connection that sent it.
	OriginatorEcho bool
}

// NewDispatcher creates a stopped Dispatcher; RunWithContext starts it.
func NewDispatcher(store eventstore.Store, hub *Hub, cfg DispatcherConfig) *Dispatcher {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	return &Dispatcher{
		store:      store,
		hub:        hub,
		echo:       cfg.OriginatorEcho,
		shardCount: cfg.Shards,
		queueDepth: cfg.QueueDepth,
		stopped:    true,
	}
}

// Submit queues e for append and broadcast. done is called from the session's
// worker once the append finished (successfully or not). Submit blocks while
// the session's shard queue is full, until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, e models.Event, originID string, done func(DispatchResult)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	job := dispatchJob{event: e, originID: originID, enqueued: time.Now(), done: done}
	ch := d.shards[shardIndex(e.Session, len(d.shards))]
	select {
	case ch <- job:
		metrics.DispatchQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the dispatcher accepts jobs.
func (d *Dispatcher) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.stopped
}

// RunWithContext starts one worker per shard and blocks until ctx is
// canceled. On shutdown it stops accepting jobs, lets the workers drain what
// is already queued, and returns ctx.Err().
func (d *Dispatcher) RunWithContext(ctx context.Context) error {
	d.mu.Lock()
	d.shards = make([]chan dispatchJob, d.shardCount)
	for i := range d.shards {
		d.shards[i] = make(chan dispatchJob, d.queueDepth)
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}
	d.stopped = false
	d.mu.Unlock()

	logging.Info().
		Int("shards", d.shardCount).
		Int("queue_depth", d.queueDepth).
		Msg("dispatcher started")

	<-ctx.Done()

	d.mu.Lock()
	d.stopped = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()

	logging.Info().
		Str("component", "dispatcher").
		Str("reason", string(getShutdownReason(ctx))).
		Msg("dispatcher stopped")
	return ctx.Err()
}

func (d *Dispatcher) worker(ch <-chan dispatchJob) {
	defer d.wg.Done()
	for job := range ch {
		metrics.DispatchQueueDepth.Dec()
		d.process(job)
	}
}

// process appends and, for a new event, broadcasts it. The broadcast happens
// on the worker so recipients see events in append order.
func (d *Dispatcher) process(job dispatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	res, err := d.store.Append(ctx, job.event)
	out := DispatchResult{Result: res, Err: err}
	if err != nil {
		logging.Error().
			Err(err).
			Str("session", job.event.Session.String()).
			Str("event_id", job.event.EventID).
			Msg("append failed")
	} else if !res.Duplicate {
		out.Recipients = d.broadcast(res.Event, job.originID)
	}

	metrics.DispatchDuration.Observe(time.Since(job.enqueued).Seconds())
	if job.done != nil {
		job.done(out)
	}
}

func (d *Dispatcher) broadcast(e models.Event, originID string) int {
	msg, err := encodeFrame(MessageTypeEventBroadcast, "", EventBroadcast{SessionRef: refOf(e.Session), Event: e})
	if err != nil {
		logging.Error().Err(err).Str("session", e.Session.String()).Msg("failed to encode broadcast")
		return 0
	}
	exclude := originID
	if d.echo {
		exclude = ""
	}
	return d.hub.Broadcast(e.Session, msg, exclude)
}
