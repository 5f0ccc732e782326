// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package recovery is the client side of the sync protocol.

A Coordinator owns one transport to the gateway and walks an explicit state
machine:

	DISCONNECTED -> RECONNECTING -> SYNCING -> CONNECTED
	      |              |             |           |
	      v              +-------------+-----------+--> DISCONNECTED
	   FAILED

On every (re)connect it joins each remembered session and requests the
events after the last applied timestamp (a full sync when nothing was
applied yet). Live broadcasts that arrive while a session is catching up are
buffered and applied after the sync response. Only then are unacknowledged
submissions replayed, oldest first, from the PendingQueue, and the
coordinator enters CONNECTED once the replay has been written. The server
deduplicates on event id, and the coordinator drops any event at or before
a session's last applied timestamp, so the Applier sees each event once.

All submission writes go through a golang.org/x/time/rate limiter
(Config.SubmitRate, Config.SubmitBurst) so a long replay stays under the
gateway's rate limit. A RATE_LIMITED rejection keeps the entry queued for
the next transport; other non-retryable rejections drop it.

Connection attempts back off exponentially (cenkalti/backoff) and are capped
by Config.MaxAttempts; past the cap the coordinator enters FAILED and Run
returns ErrFailed so the application can show a disconnected state.

WSDialer is the gorilla/websocket transport; tests substitute their own
Dialer.
*/
package recovery
