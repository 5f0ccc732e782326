// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package models defines the session and event types shared by the store, the
gateway and the recovery client.

# Sessions

A SessionKey is a (kind, id) pair. The two kinds, game and room, are
disjoint namespaces: game "abc" and room "abc" never share events.

# Events

An Event is immutable once the store accepts it. Timestamps are unique and
strictly increasing within a session, so a client that has seen timestamp
T catches up by asking for every event after T. The event id is generated
by the client and makes resubmission idempotent.

A Draft is what a client submits. Draft.Validate checks it against the
closed catalogue for the session kind:

	game: create, cellUpdate, cursorUpdate, check, reveal, reset, clock,
	      chat, updateDisplayName, updateColor
	room: chat, updateDisplayName, updateColor, setGame

Payloads decode strictly into their typed struct and are then checked with
go-playground/validator tags. Any failure is a *ValidationError, which the
gateway reports without closing the connection.

# JSON

Events flatten the session key on the wire:

	{"eventId":"...","sessionKind":"game","sessionId":"abc","actorId":"a1",
	 "timestamp":1712345678901,"type":"cellUpdate","payload":{...}}
*/
package models
