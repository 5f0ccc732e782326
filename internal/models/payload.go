// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
payload.go - Closed Event Catalogue

Every event type is one variant of the Payload tagged union. Decoding looks the
type up in the catalogue for the session kind, decodes strictly (unknown fields
rejected) and validates the variant's struct tags.

Game events:
  - create, cellUpdate, cursorUpdate, check, reveal, reset, clock
  - chat, updateDisplayName, updateColor

Room events:
  - chat, updateDisplayName, updateColor, setGame
*/

package models

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/tomtom215/crossplay/internal/validation"
)

// EventType is the closed tag identifying an event's payload shape.
type EventType string

// Event types.
const (
	TypeCreate            EventType = "create"
	TypeCellUpdate        EventType = "cellUpdate"
	TypeCursorUpdate      EventType = "cursorUpdate"
	TypeCheck             EventType = "check"
	TypeReveal            EventType = "reveal"
	TypeReset             EventType = "reset"
	TypeClock             EventType = "clock"
	TypeChat              EventType = "chat"
	TypeUpdateDisplayName EventType = "updateDisplayName"
	TypeUpdateColor       EventType = "updateColor"
	TypeSetGame           EventType = "setGame"
)

// MaxGridSize bounds rows and columns of a puzzle grid.
const MaxGridSize = 64

// Payload is implemented by every event variant.
type Payload interface {
	EventType() EventType
}

// CreatePayload starts a game from a puzzle.
type CreatePayload struct {
	PuzzleID  string `json:"puzzleId" validate:"required,max=128"`
	Rows      int    `json:"rows" validate:"gte=1,lte=64"`
	Cols      int    `json:"cols" validate:"gte=1,lte=64"`
	ClueCount int    `json:"clueCount" validate:"gte=0,lte=2000"`
}

// CellUpdatePayload writes (or clears, when Value is empty) one cell.
type CellUpdatePayload struct {
	Row    int    `json:"row" validate:"gte=0,lt=64"`
	Col    int    `json:"col" validate:"gte=0,lt=64"`
	Value  string `json:"value" validate:"cellvalue"`
	Pencil bool   `json:"pencil"`
}

// CursorUpdatePayload moves a participant's cursor.
type CursorUpdatePayload struct {
	Row int `json:"row" validate:"gte=0,lt=64"`
	Col int `json:"col" validate:"gte=0,lt=64"`
}

// Cell addresses one grid square.
type Cell struct {
	Row int `json:"row" validate:"gte=0,lt=64"`
	Col int `json:"col" validate:"gte=0,lt=64"`
}

// CheckPayload asks for the listed cells to be checked.
type CheckPayload struct {
	Cells []Cell `json:"cells" validate:"required,min=1,max=4096,dive"`
}

// RevealPayload reveals the listed cells.
type RevealPayload struct {
	Cells []Cell `json:"cells" validate:"required,min=1,max=4096,dive"`
}

// ResetPayload clears the listed cells.
type ResetPayload struct {
	Cells []Cell `json:"cells" validate:"required,min=1,max=4096,dive"`
}

// ClockPayload starts or pauses the shared game clock.
type ClockPayload struct {
	Action    string `json:"action" validate:"required,oneof=start pause"`
	ElapsedMs int64  `json:"elapsedMs" validate:"gte=0"`
}

// ChatPayload is a chat line in a game or room.
type ChatPayload struct {
	Text       string `json:"text" validate:"required,max=2000"`
	SenderName string `json:"senderName" validate:"max=64"`
}

// UpdateDisplayNamePayload renames the participant.
type UpdateDisplayNamePayload struct {
	Name string `json:"name" validate:"required,max=64"`
}

// UpdateColorPayload changes the participant's highlight color.
type UpdateColorPayload struct {
	Color string `json:"color" validate:"required,hexcolor"`
}

// SetGamePayload points a room at a game.
type SetGamePayload struct {
	GameID string `json:"gameId" validate:"required,sessionid"`
}

// EventType implementations.
func (CreatePayload) EventType() EventType            { return TypeCreate }
func (CellUpdatePayload) EventType() EventType        { return TypeCellUpdate }
func (CursorUpdatePayload) EventType() EventType      { return TypeCursorUpdate }
func (CheckPayload) EventType() EventType             { return TypeCheck }
func (RevealPayload) EventType() EventType            { return TypeReveal }
func (ResetPayload) EventType() EventType             { return TypeReset }
func (ClockPayload) EventType() EventType             { return TypeClock }
func (ChatPayload) EventType() EventType              { return TypeChat }
func (UpdateDisplayNamePayload) EventType() EventType { return TypeUpdateDisplayName }
func (UpdateColorPayload) EventType() EventType       { return TypeUpdateColor }
func (SetGamePayload) EventType() EventType           { return TypeSetGame }

var sharedVariants = map[EventType]func() Payload{
	TypeChat:              func() Payload { return &ChatPayload{} },
	TypeUpdateDisplayName: func() Payload { return &UpdateDisplayNamePayload{} },
	TypeUpdateColor:       func() Payload { return &UpdateColorPayload{} },
}

var catalogue = map[SessionKind]map[EventType]func() Payload{
	KindGame: withShared(map[EventType]func() Payload{
		TypeCreate:       func() Payload { return &CreatePayload{} },
		TypeCellUpdate:   func() Payload { return &CellUpdatePayload{} },
		TypeCursorUpdate: func() Payload { return &CursorUpdatePayload{} },
		TypeCheck:        func() Payload { return &CheckPayload{} },
		TypeReveal:       func() Payload { return &RevealPayload{} },
		TypeReset:        func() Payload { return &ResetPayload{} },
		TypeClock:        func() Payload { return &ClockPayload{} },
	}),
	KindRoom: withShared(map[EventType]func() Payload{
		TypeSetGame: func() Payload { return &SetGamePayload{} },
	}),
}

func withShared(m map[EventType]func() Payload) map[EventType]func() Payload {
	for t, f := range sharedVariants {
		m[t] = f
	}
	return m
}

// EventTypes lists the types accepted for kind, sorted.
func EventTypes(kind SessionKind) []EventType {
	types := make([]EventType, 0, len(catalogue[kind]))
	for t := range catalogue[kind] {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// DecodePayload decodes raw as the variant registered for typ in the kind's
// namespace. A type that is unknown, or known only in the other namespace,
// is a ValidationError.
func DecodePayload(kind SessionKind, typ EventType, raw json.RawMessage) (Payload, error) {
	variants, ok := catalogue[kind]
	if !ok {
		return nil, &ValidationError{Field: "sessionKind", Message: fmt.Sprintf("unknown session kind %q", kind)}
	}
	newVariant, ok := variants[typ]
	if !ok {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("event type %q is not valid for %s sessions", typ, kind)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	p := newVariant()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, &ValidationError{Field: "payload", Message: "malformed " + string(typ) + " payload: " + err.Error()}
	}

	if verr := validation.ValidateStruct(p); verr != nil {
		first := verr.Errors()[0]
		return nil, &ValidationError{Field: first.Field(), Message: verr.Error()}
	}
	return p, nil
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
