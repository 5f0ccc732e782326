// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/metrics"
	"github.com/tomtom215/crossplay/internal/models"
)

// BreakerConfig tunes the circuit breaker in front of a backend.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures uint32

	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
}

// Resilient decorates a Store with a circuit breaker and Prometheus metrics.
// While the circuit is open every call fails fast with a PersistenceError
// wrapping ErrUnavailable.
type Resilient struct {
	next    Store
	backend string
	cb      *gobreaker.CircuitBreaker[interface{}]
}

// NewResilient wraps next. backend labels metrics and logs.
func NewResilient(next Store, backend string, cfg BreakerConfig) *Resilient {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	name := "eventstore-" + backend
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Event store circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Resilient{next: next, backend: backend, cb: cb}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// State returns the breaker state ("closed", "half-open", "open").
func (r *Resilient) State() string {
	return r.cb.State().String()
}

// Unwrap returns the decorated store.
func (r *Resilient) Unwrap() Store {
	return r.next
}

func execute[T any](r *Resilient, op string, session models.SessionKey, fn func() (T, error)) (T, error) {
	var zero T
	start := time.Now()

	out, err := r.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	metrics.RecordStoreOperation(r.backend, op, time.Since(start), err)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(r.cb.Name(), "rejected").Inc()
			return zero, &PersistenceError{Op: op, Session: session, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
		}
		metrics.CircuitBreakerRequests.WithLabelValues(r.cb.Name(), "failure").Inc()
		return zero, persistErr(op, session, err)
	}
	metrics.CircuitBreakerRequests.WithLabelValues(r.cb.Name(), "success").Inc()

	result, ok := out.(T)
	if !ok {
		return zero, &PersistenceError{Op: op, Session: session, Err: fmt.Errorf("unexpected result type %T", out)}
	}
	return result, nil
}

// Append implements Store.
//
//nolint:gocritic // models.Event is passed by value per the Store interface
func (r *Resilient) Append(ctx context.Context, e models.Event) (AppendResult, error) {
	res, err := execute(r, "append", e.Session, func() (AppendResult, error) {
		return r.next.Append(ctx, e)
	})
	if err == nil {
		metrics.RecordAppend(string(e.Session.Kind), res.Duplicate)
	}
	return res, err
}

// All implements Store.
func (r *Resilient) All(ctx context.Context, session models.SessionKey) ([]models.Event, error) {
	return execute(r, "all", session, func() ([]models.Event, error) {
		return r.next.All(ctx, session)
	})
}

// Since implements Store.
func (r *Resilient) Since(ctx context.Context, session models.SessionKey, since int64) ([]models.Event, error) {
	return execute(r, "since", session, func() ([]models.Event, error) {
		return r.next.Since(ctx, session, since)
	})
}

// Latest implements Store.
func (r *Resilient) Latest(ctx context.Context, session models.SessionKey) (int64, error) {
	return execute(r, "latest", session, func() (int64, error) {
		return r.next.Latest(ctx, session)
	})
}

// Ping implements Store. Health checks bypass the breaker so readiness
// reflects the backend, not the breaker.
func (r *Resilient) Ping(ctx context.Context) error {
	if r.cb.State() == gobreaker.StateOpen {
		return ErrUnavailable
	}
	return r.next.Ping(ctx)
}

// Close implements Store.
func (r *Resilient) Close() error {
	return r.next.Close()
}
