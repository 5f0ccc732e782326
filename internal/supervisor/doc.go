// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package supervisor provides process supervision for Crossplay using suture v4.

The tree organizes long-running services into three layers:

	RootSupervisor ("crossplay")
	├── DataSupervisor ("data-layer")
	│   └── StoreGCService (badger backend only)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── RunnerService "event-dispatcher"
	│   ├── RunnerService "websocket-hub"
	│   └── SweeperService "ratelimit-sweeper"
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Crashed services restart with suture's backoff; a failure in one layer does
not restart the others.

Shutdown:

Canceling the context passed to Serve stops every service. The dispatcher
finishes the jobs already queued (append, broadcast, ack), the hub sends a
going-away close to every client and the HTTP server stops accepting
upgrades. Clients whose ack was lost reconnect and replay; appends are
idempotent on event id, so nothing is stored twice. The caller closes the
event store after Serve returns.

Logging:

suture events go through sutureslog into a slog.Logger. Passing a nil
logger to NewSupervisorTree uses logging.NewSlogLogger, which forwards to
the process zerolog logger.

	tree, err := supervisor.NewSupervisorTree(nil, supervisor.DefaultTreeConfig())
	tree.AddMessagingService(services.NewDispatcherService(dispatcher))
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)
*/
package supervisor
