// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/crossplay/internal/auth"
	"github.com/tomtom215/crossplay/internal/eventstore"
	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/models"
)

// SessionEventsResponse is the data of a REST catch-up response.
type SessionEventsResponse struct {
	SessionKind models.SessionKind `json:"sessionKind"`
	SessionID   string             `json:"sessionId"`
	Since       *int64             `json:"since,omitempty"`
	Events      []models.Event     `json:"events"`
}

// SessionEvents serves catch-up over plain HTTP for clients that cannot
// hold a socket:
//
//	GET /api/v1/sessions/{kind}/{id}/events[?since=<ts>]
//
// Without since it returns the full history, with it the events strictly
// after since. Access follows the same policy as a websocket sync.
func (h *Handler) SessionEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	key, err := models.NewSessionKey(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			rw.ValidationError(ve.Error(), map[string]string{"field": ve.Field})
			return
		}
		rw.BadRequest(err.Error())
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		rw.ValidationError(err.Error(), map[string]string{"field": "since"})
		return
	}

	principal, err := h.principalFromRequest(r)
	if err != nil {
		respondAuthError(rw, err)
		return
	}
	if err := h.policy.Authorize(principal, key.Kind, auth.ActionSync); err != nil {
		if auth.ReasonOf(err) == "" {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Access policy evaluation failed")
			rw.InternalError("access check failed")
			return
		}
		logging.Ctx(r.Context()).Warn().
			Str("actor_id", principal.ActorID).
			Str("session", key.String()).
			Str("reason", string(auth.ReasonOf(err))).
			Msg("REST catch-up refused")
		respondAuthError(rw, err)
		return
	}

	events, err := h.gateway.RequestSync(r.Context(), key, since)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("session", key.String()).Msg("REST catch-up read failed")
		switch {
		case errors.Is(err, eventstore.ErrUnavailable), eventstore.IsPersistenceError(err):
			rw.ServiceUnavailable(ErrCodePersistenceError, "event store unavailable, retry later")
		default:
			rw.InternalError("failed to read session events")
		}
		return
	}

	rw.Success(SessionEventsResponse{
		SessionKind: key.Kind,
		SessionID:   key.ID,
		Since:       since,
		Events:      events,
	})
}
