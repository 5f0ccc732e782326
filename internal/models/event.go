// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/crossplay/internal/validation"
)

// SessionKind selects one of the two disjoint session namespaces.
type SessionKind string

const (
	// KindGame is a puzzle-solving instance.
	KindGame SessionKind = "game"

	// KindRoom is a chat/lobby space.
	KindRoom SessionKind = "room"
)

// ParseSessionKind converts a wire value into a SessionKind.
func ParseSessionKind(s string) (SessionKind, error) {
	switch SessionKind(s) {
	case KindGame, KindRoom:
		return SessionKind(s), nil
	default:
		return "", &ValidationError{Field: "sessionKind", Message: fmt.Sprintf("unknown session kind %q", s)}
	}
}

// SessionKey identifies one session. Game "abc" and room "abc" are distinct.
type SessionKey struct {
	Kind SessionKind `json:"sessionKind"`
	ID   string      `json:"sessionId"`
}

// NewSessionKey validates kind and id and returns the key.
func NewSessionKey(kind, id string) (SessionKey, error) {
	k, err := ParseSessionKind(kind)
	if err != nil {
		return SessionKey{}, err
	}
	if !validation.ValidSessionID(id) {
		return SessionKey{}, &ValidationError{
			Field:   "sessionId",
			Message: "sessionId must be 1-128 characters of letters, digits, '-' or '_'",
		}
	}
	return SessionKey{Kind: k, ID: id}, nil
}

// String renders the key as "kind:id", the form used in logs and metrics.
func (k SessionKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// ParseSessionKey is the inverse of SessionKey.String.
func ParseSessionKey(s string) (SessionKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return SessionKey{}, &ValidationError{Field: "session", Message: fmt.Sprintf("malformed session key %q", s)}
	}
	return NewSessionKey(kind, id)
}

// Event is an immutable, ordered record of a state change within a session.
// Timestamps are unique and strictly increasing per session.
type Event struct {
	EventID   string          `json:"eventId"`
	Session   SessionKey      `json:"-"`
	ActorID   string          `json:"actorId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// eventWire flattens the session key into the event object on the wire.
type eventWire struct {
	EventID     string          `json:"eventId"`
	SessionKind SessionKind     `json:"sessionKind"`
	SessionID   string          `json:"sessionId"`
	ActorID     string          `json:"actorId,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	Type        EventType       `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
//
//nolint:gocritic // value receiver so []Event marshals without pointers
func (e Event) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return json.Marshal(eventWire{
		EventID:     e.EventID,
		SessionKind: e.Session.Kind,
		SessionID:   e.Session.ID,
		ActorID:     e.ActorID,
		Timestamp:   e.Timestamp,
		Type:        e.Type,
		Payload:     payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		EventID:   w.EventID,
		Session:   SessionKey{Kind: w.SessionKind, ID: w.SessionID},
		ActorID:   w.ActorID,
		Timestamp: w.Timestamp,
		Type:      w.Type,
		Payload:   w.Payload,
	}
	return nil
}

// Draft is an event proposed by a connection, before the store assigns
// its final timestamp.
type Draft struct {
	EventID   string          `json:"eventId"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewDraft builds a Draft with a fresh event id from a typed payload.
func NewDraft(p Payload) (Draft, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Draft{}, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return Draft{EventID: uuid.NewString(), Type: p.EventType(), Payload: raw}, nil
}

// MaxClockSkew bounds how far a proposed timestamp may run ahead of the
// server clock.
const MaxClockSkew = 5 * time.Minute

// Validate checks the draft against the closed catalogue for kind and returns
// the decoded payload. Unknown types are rejected.
func (d *Draft) Validate(kind SessionKind) (Payload, error) {
	if _, err := uuid.Parse(d.EventID); err != nil {
		return nil, &ValidationError{Field: "eventId", Message: "eventId must be a UUID"}
	}
	if d.Timestamp < 0 {
		return nil, &ValidationError{Field: "timestamp", Message: "timestamp must not be negative"}
	}
	if d.Timestamp > time.Now().Add(MaxClockSkew).UnixMilli() {
		return nil, &ValidationError{Field: "timestamp", Message: "timestamp is too far in the future"}
	}
	return DecodePayload(kind, d.Type, d.Payload)
}

// ToEvent binds the draft to a session and actor. The timestamp is still the
// client's proposal; the event store decides the final value.
func (d *Draft) ToEvent(session SessionKey, actorID string) Event {
	return Event{
		EventID:   d.EventID,
		Session:   session,
		ActorID:   actorID,
		Timestamp: d.Timestamp,
		Type:      d.Type,
		Payload:   d.Payload,
	}
}

// ValidationError reports a malformed event draft or message field.
// It is recoverable: the connection stays open.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
