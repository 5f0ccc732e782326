// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package api provides the HTTP surface of the Crossplay sync engine.

Routes:

	GET /ws                                   websocket upgrade (per-IP upgrade limit)
	GET /api/v1/sessions/{kind}/{id}/events   REST catch-up, optional ?since=<ts>
	GET /api/v1/health/live                   liveness
	GET /api/v1/health/ready                  readiness (store ping, dispatcher)
	GET /metrics                              Prometheus exposition

Credentials are bearer tokens in the Authorization header or the token query
parameter. A presented credential that fails verification is rejected with
401 before any upgrade happens; no credential means an anonymous principal,
which the access policy admits only to the configured session kinds.

REST responses use the APIResponse envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
	{"success": false, "error": {"code": "AUTH_INVALID", "message": "..."}}

Error codes for auth failures match the websocket errorNotice codes.
*/
package api
