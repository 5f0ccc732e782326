// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package websocket

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/crossplay/internal/models"
)

// Inbound message types.
const (
	MessageTypeAuthenticate           = "authenticate"
	MessageTypeJoin                   = "join"
	MessageTypeLeave                  = "leave"
	MessageTypeSubmitEvent            = "submitEvent"
	MessageTypeRequestFullSync        = "requestFullSync"
	MessageTypeRequestIncrementalSync = "requestIncrementalSync"
	MessageTypeLatencyProbe           = "latencyProbe"
)

// Outbound message types.
const (
	MessageTypeAuthenticated           = "authenticated"
	MessageTypeJoined                  = "joined"
	MessageTypeLeft                    = "left"
	MessageTypeAck                     = "ack"
	MessageTypeEventBroadcast          = "eventBroadcast"
	MessageTypeFullSyncResponse        = "fullSyncResponse"
	MessageTypeIncrementalSyncResponse = "incrementalSyncResponse"
	MessageTypeLatencyProbeResponse    = "latencyProbeResponse"
	MessageTypeErrorNotice             = "errorNotice"
)

// Error codes carried by errorNotice.
const (
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeAuthInvalid      = "AUTH_INVALID"
	CodeForbidden        = "FORBIDDEN"
	CodeValidationError  = "VALIDATION_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
	CodePersistenceError = "PERSISTENCE_ERROR"
	CodeNotJoined        = "NOT_JOINED"
	CodeSyncThrottled    = "SYNC_THROTTLED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInternal         = "INTERNAL"
)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionRef names a session on the wire.
type SessionRef struct {
	SessionKind string `json:"sessionKind"`
	SessionID   string `json:"sessionId"`
}

// Key validates the reference and returns the session key.
func (r SessionRef) Key() (models.SessionKey, error) {
	return models.NewSessionKey(r.SessionKind, r.SessionID)
}

func refOf(key models.SessionKey) SessionRef {
	return SessionRef{SessionKind: string(key.Kind), SessionID: key.ID}
}

// AuthenticateRequest carries a bearer credential as the first message.
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// SubmitEventRequest proposes a new event for a joined session.
type SubmitEventRequest struct {
	SessionRef
	Event models.Draft `json:"event"`
}

// IncrementalSyncRequest asks for events strictly after Since.
type IncrementalSyncRequest struct {
	SessionRef
	Since int64 `json:"since"`
}

// LatencyProbeRequest is echoed back with the server clock.
type LatencyProbeRequest struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
}

// AuthenticatedResponse confirms the principal bound to the connection.
type AuthenticatedResponse struct {
	ActorID     string `json:"actorId"`
	DisplayName string `json:"displayName,omitempty"`
}

// JoinedResponse confirms a membership and reports where the log is.
type JoinedResponse struct {
	SessionRef
	LatestTimestamp int64 `json:"latestTimestamp"`
}

// AckResponse acknowledges a submitted event with its stored form.
type AckResponse struct {
	SessionRef
	Event     models.Event `json:"event"`
	Duplicate bool         `json:"duplicate"`
}

// EventBroadcast delivers an accepted event to joined connections.
type EventBroadcast struct {
	SessionRef
	Event models.Event `json:"event"`
}

// SyncResponse answers both full and incremental sync requests.
type SyncResponse struct {
	SessionRef
	Events []models.Event `json:"events"`
	Since  *int64         `json:"since,omitempty"`
}

// LatencyProbeResponse is the answer to a latency probe.
type LatencyProbeResponse struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
	ServerTimestamp int64 `json:"serverTimestamp"`
}

// ErrorNotice reports a rejected request. Retryable means the same request
// may succeed later without modification.
type ErrorNotice struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// outbound is an encoded frame queued for a connection. Broadcasts encode
// once and share the bytes across recipients.
type outbound struct {
	typ  string
	data []byte
}

// encodeFrame builds the wire bytes for an outbound message.
func encodeFrame(typ, requestID string, payload interface{}) (outbound, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return outbound{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	data, err := json.Marshal(Frame{Type: typ, RequestID: requestID, Payload: raw})
	if err != nil {
		return outbound{}, fmt.Errorf("encode %s frame: %w", typ, err)
	}
	return outbound{typ: typ, data: data}, nil
}

// NewFrame builds an inbound frame; clients use it to talk to the gateway.
func NewFrame(typ, requestID string, payload interface{}) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Frame{Type: typ, RequestID: requestID, Payload: raw}, nil
}

// RefOf returns the wire reference for key.
func RefOf(key models.SessionKey) SessionRef {
	return refOf(key)
}

// decodePayload unmarshals a frame payload into v.
func decodePayload(f *Frame, v interface{}) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s: payload is required", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", f.Type, err)
	}
	return nil
}
