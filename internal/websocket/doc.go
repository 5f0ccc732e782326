// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package websocket is the realtime side of Crossplay: the connection gateway,
the session registry that fans events out, and the dispatcher that keeps
each session's appends and broadcasts in order.

Key Components:

  - Hub: session registry and broadcast router, sharded by session key
  - Dispatcher: one worker per shard; every event of a session goes through
    the same worker, so append order equals broadcast order
  - Gateway: authenticates connections, runs the submit pipeline
    (rate limit, access policy, membership, closed payload validation,
    append, broadcast, ack) and answers sync requests from the store
  - Client: a gorilla/websocket connection with read and write pumps

Architecture:

	connection ──readPump──▶ Gateway ──▶ Limiter
	                           │
	                           ├──▶ Dispatcher[shard(session)] ──▶ Store.Append
	                           │            │
	                           │            └──▶ Hub.Broadcast ──▶ Client.send (others)
	                           │
	                           └──▶ Store.All / Store.Since (sync, bypasses broadcast)

Wire Format:

Every frame is a JSON text message {"type", "requestId", "payload"}. Replies
echo the requestId of the request they answer. See protocol.go for the
inbound and outbound message types and the errorNotice codes.

Failure Handling:

  - Validation, membership and persistence failures are reported with an
    errorNotice and the connection stays open.
  - Auth failures and rate limit violations send an errorNotice and then
    close the connection with a policy-violation close frame.
  - A recipient whose send queue is full is disconnected; it catches up with
    an incremental sync after reconnecting.

Thread Safety:

Hub and Dispatcher are safe for concurrent use. A Client's inbound frames
are handled on its own read goroutine.
*/
package websocket
