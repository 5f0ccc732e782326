// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package services

import (
	"context"
)

// ContextRunner is a component whose lifetime is one blocking call that
// returns when ctx is canceled.
//
// Satisfied by:
//   - *websocket.Hub (RunWithContext: closes every client on shutdown)
//   - *websocket.Dispatcher (RunWithContext: drains queued jobs on shutdown)
type ContextRunner interface {
	RunWithContext(ctx context.Context) error
}

// RunnerService wraps a ContextRunner as a supervised service.
//
// The runner already implements the suture.Service pattern, so this
// wrapper delegates to it and provides a name for logging.
//
// Example usage:
//
//	tree.AddMessagingService(services.NewDispatcherService(dispatcher))
//	tree.AddMessagingService(services.NewWebSocketHubService(hub))
type RunnerService struct {
	runner ContextRunner
	name   string
}

// NewRunnerService wraps runner under name.
func NewRunnerService(name string, runner ContextRunner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// NewWebSocketHubService supervises the session registry.
func NewWebSocketHubService(hub ContextRunner) *RunnerService {
	return NewRunnerService("websocket-hub", hub)
}

// NewDispatcherService supervises the per-session event dispatcher.
func NewDispatcherService(dispatcher ContextRunner) *RunnerService {
	return NewRunnerService("event-dispatcher", dispatcher)
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *RunnerService) String() string {
	return s.name
}

// Sweeper is a periodic maintenance loop.
//
// Satisfied by *ratelimit.Limiter (RunSweeper drops idle windows).
type Sweeper interface {
	RunSweeper(ctx context.Context) error
}

// SweeperService supervises a Sweeper.
type SweeperService struct {
	sweeper Sweeper
	name    string
}

// NewRateLimitSweeperService supervises the limiter's TTL sweep.
func NewRateLimitSweeperService(sweeper Sweeper) *SweeperService {
	return &SweeperService{sweeper: sweeper, name: "ratelimit-sweeper"}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	return s.sweeper.RunSweeper(ctx)
}

// String implements fmt.Stringer for logging.
func (s *SweeperService) String() string {
	return s.name
}
