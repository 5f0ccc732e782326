// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/crossplay/internal/api"
	"github.com/tomtom215/crossplay/internal/auth"
	"github.com/tomtom215/crossplay/internal/config"
	"github.com/tomtom215/crossplay/internal/eventstore"
	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/metrics"
	"github.com/tomtom215/crossplay/internal/ratelimit"
	"github.com/tomtom215/crossplay/internal/supervisor"
	"github.com/tomtom215/crossplay/internal/supervisor/services"
	ws "github.com/tomtom215/crossplay/internal/websocket"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

//nolint:gocyclo // Sequential startup wiring
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("store_backend", cfg.Store.Backend).
		Strs("anonymous_kinds", cfg.Security.AnonymousKinds).
		Msg("Starting Crossplay with supervisor tree")
	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := eventstore.Open(ctx, eventstore.Config{
		Backend:     cfg.Store.Backend,
		BadgerPath:  cfg.Store.BadgerPath,
		SyncWrites:  cfg.Store.SyncWrites,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresDSN: cfg.Store.PostgresDSN,
		Breaker: eventstore.BreakerConfig{
			Failures: cfg.Store.BreakerFailures,
			Timeout:  cfg.Store.BreakerTimeout,
		},
	})
	if err != nil {
		logging.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to open event store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event store")
		}
	}()
	logging.Info().Str("backend", cfg.Store.Backend).Msg("Event store opened")

	tokens, err := auth.NewTokenManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token manager")
	}
	policy, err := auth.NewAccessPolicy(cfg.Security.AnonymousKinds)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize access policy")
	}

	hub := ws.NewHub(cfg.Dispatch.Shards)
	dispatcher := ws.NewDispatcher(store, hub, ws.DispatcherConfig{
		Shards:         cfg.Dispatch.Shards,
		QueueDepth:     cfg.Dispatch.QueueDepth,
		OriginatorEcho: cfg.WebSocket.OriginatorEcho,
	})
	limiter := ratelimit.New(ratelimit.Config{
		ConnectionMaxEvents: cfg.RateLimit.ConnectionMaxEvents,
		ActorMaxEvents:      cfg.RateLimit.ActorMaxEvents,
		Window:              cfg.RateLimit.Window,
		EntryTTL:            cfg.RateLimit.EntryTTL,
		SweepInterval:       cfg.RateLimit.SweepInterval,
		Capacity:            cfg.RateLimit.Capacity,
		EvictFraction:       cfg.RateLimit.EvictFraction,
	})

	opts := ws.DefaultOptions()
	if cfg.WebSocket.WriteWait > 0 {
		opts.WriteWait = cfg.WebSocket.WriteWait
	}
	if cfg.WebSocket.PongWait > 0 {
		opts.PongWait = cfg.WebSocket.PongWait
	}
	if cfg.WebSocket.PingPeriod > 0 {
		opts.PingPeriod = cfg.WebSocket.PingPeriod
	}
	if cfg.WebSocket.MaxMessageSize > 0 {
		opts.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	}
	if cfg.WebSocket.SendBuffer > 0 {
		opts.SendBuffer = cfg.WebSocket.SendBuffer
	}
	if cfg.Sync.RequestsPerSecond > 0 {
		opts.SyncRate = rate.Limit(cfg.Sync.RequestsPerSecond)
	}
	if cfg.Sync.Burst > 0 {
		opts.SyncBurst = cfg.Sync.Burst
	}

	gateway := ws.NewGateway(ws.GatewayDeps{
		Store:      store,
		Hub:        hub,
		Dispatcher: dispatcher,
		Limiter:    limiter,
		Tokens:     tokens,
		Policy:     policy,
	}, opts)

	handler := api.NewHandler(api.HandlerDeps{
		Config:     cfg,
		Store:      store,
		Gateway:    gateway,
		Dispatcher: dispatcher,
		Tokens:     tokens,
		Policy:     policy,
	})
	router := api.NewRouter(handler, api.NewChiMiddlewareFromConfig(cfg))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       60 * time.Second,
	}

	treeConfig := supervisor.DefaultTreeConfig()
	if cfg.Server.ShutdownTimeout > 0 {
		treeConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeConfig)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Data layer
	if badgerStore, ok := store.Unwrap().(*eventstore.BadgerStore); ok {
		tree.AddDataService(services.NewStoreGCService(badgerStore, cfg.Store.GCInterval))
		logging.Info().Dur("interval", cfg.Store.GCInterval).Msg("Badger value log GC added to supervisor tree")
	}

	// Messaging layer
	tree.AddMessagingService(services.NewDispatcherService(dispatcher))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddMessagingService(services.NewRateLimitSweeperService(limiter))
	logging.Info().
		Int("shards", cfg.Dispatch.Shards).
		Int("queue_depth", cfg.Dispatch.QueueDepth).
		Msg("Dispatcher, hub and rate limit sweeper added to supervisor tree")

	// API layer
	tree.AddAPIService(services.NewHTTPServerService(server, treeConfig.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Crossplay stopped gracefully")
}
