// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package services adapts Crossplay components to suture.Service.

Each wrapper depends on a small interface rather than the concrete type, so
this package imports neither websocket nor eventstore and tests use fakes:

  - HTTPServerService: *http.Server (ListenAndServe/Shutdown)
  - RunnerService: *websocket.Hub and *websocket.Dispatcher (RunWithContext)
  - SweeperService: *ratelimit.Limiter (RunSweeper)
  - StoreGCService: *eventstore.BadgerStore (RunGC)

Every wrapper implements fmt.Stringer; suture uses the name in its event
log lines.
*/
package services
