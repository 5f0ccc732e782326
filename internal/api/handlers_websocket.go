// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package api

import (
	"net/http"

	"github.com/tomtom215/crossplay/internal/auth"
	"github.com/tomtom215/crossplay/internal/logging"
)

// WebSocket upgrades a connection and hands it to the gateway.
//
// A credential may arrive as an Authorization header, a ?token= query
// parameter, or later in an authenticate frame. One presented at upgrade
// time is verified before the upgrade: an invalid, expired or malformed
// credential gets HTTP 401 and no connection is created.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.gateway == nil {
		logging.Warn().Msg("WebSocket connection rejected: gateway not initialized")
		rw.ServiceUnavailable(ErrCodeServiceUnavailable, "websocket service unavailable")
		return
	}

	principal, err := h.principalFromRequest(r)
	if err != nil {
		logging.Ctx(r.Context()).Warn().
			Str("remote_addr", r.RemoteAddr).
			Str("reason", string(auth.ReasonOf(err))).
			Msg("WebSocket upgrade rejected: credential")
		respondAuthError(rw, err)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := h.gateway.Accept(conn, principal, r.RemoteAddr)
	logging.Ctx(r.Context()).Debug().
		Str("connection_id", client.ConnectionID()).
		Str("actor_id", principal.ActorID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection accepted")
}
