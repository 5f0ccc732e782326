// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package main is the entry point for the Crossplay server.

Crossplay keeps participants of a collaborative crossword session (a room
or a game) in sync. Clients submit events over a WebSocket; the server
assigns each accepted event a per-session sequence number, persists it and
fans it out to every subscriber of the session. Reconnecting clients catch
up with a sync request over the socket or with the REST catch-up endpoint.

# Application Architecture

	RootSupervisor ("crossplay")
	├── DataSupervisor ("data-layer")
	│   └── Badger value log GC (badger backend only)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Event dispatcher (per-session sharded workers)
	│   ├── WebSocket hub (subscriptions and fan-out)
	│   └── Rate limit sweeper
	└── APISupervisor ("api-layer")
	    └── HTTP server (/ws, /api/v1, /metrics)

Initialization order:

 1. Configuration: Koanf v2 (defaults, optional YAML file, environment)
 2. Logging: zerolog with JSON or console output
 3. Event store: memory, badger, sqlite or postgres behind a circuit breaker
 4. Authentication: HS256 tokens and the casbin access policy
 5. Hub, dispatcher, rate limiter and gateway
 6. Chi router and HTTP server
 7. Supervisor tree

# Configuration

	HTTP_PORT=3857
	ENVIRONMENT=production        # production enforces WS_ALLOWED_ORIGINS
	JWT_SECRET=<32+ chars>
	ANONYMOUS_KINDS=game,room     # session kinds open to unauthenticated clients
	STORE_BACKEND=badger          # memory, badger, sqlite, postgres
	BADGER_PATH=/data/events
	POSTGRES_DSN=postgres://...
	WS_ALLOWED_ORIGINS=https://play.example.com
	RATE_LIMIT_CONNECTION_MAX=60
	RATE_LIMIT_ACTOR_MAX=40
	LOG_LEVEL=info
	LOG_FORMAT=json

CONFIG_PATH points at an optional YAML file with the same keys in nested
form.

# Shutdown

SIGINT or SIGTERM cancels the root context. Suture stops every layer
within the shutdown timeout; the HTTP server drains in-flight requests,
the dispatcher stops accepting work and the event store is closed after
the tree returns.
*/
package main
