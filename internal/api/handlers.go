// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/crossplay/internal/auth"
	"github.com/tomtom215/crossplay/internal/config"
	"github.com/tomtom215/crossplay/internal/eventstore"
	"github.com/tomtom215/crossplay/internal/logging"
	ws "github.com/tomtom215/crossplay/internal/websocket"
)

// Handler serves the HTTP surface of the sync engine: the websocket
// upgrade, REST catch-up and health probes.
type Handler struct {
	config     *config.Config
	store      eventstore.Store
	gateway    *ws.Gateway
	dispatcher *ws.Dispatcher
	tokens     *auth.TokenManager
	policy     *auth.AccessPolicy
	startTime  time.Time
}

// HandlerDeps are the collaborators of a Handler.
type HandlerDeps struct {
	Config     *config.Config
	Store      eventstore.Store
	Gateway    *ws.Gateway
	Dispatcher *ws.Dispatcher
	Tokens     *auth.TokenManager
	Policy     *auth.AccessPolicy
}

// NewHandler creates a new API handler.
//
// Example:
//
//	handler := api.NewHandler(api.HandlerDeps{...})
//	router := api.NewRouter(handler, api.NewChiMiddlewareFromConfig(cfg))
//	srv := &http.Server{Handler: router.SetupChi()}
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		config:     deps.Config,
		store:      deps.Store,
		gateway:    deps.Gateway,
		dispatcher: deps.Dispatcher,
		tokens:     deps.Tokens,
		policy:     deps.Policy,
		startTime:  time.Now(),
	}
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout against slow clients.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins.
//
// Browsers always send Origin, so a present Origin must be allow-listed.
// Native clients (the recovery dialer, bots) send none and are admitted;
// they authenticate with a bearer credential like everyone else.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	// No config: fail open for tests/development
	if h.config == nil {
		return true
	}

	allowed := h.config.WebSocket.AllowedOrigins
	if len(allowed) == 0 && h.config.Server.Environment != "production" {
		return true
	}
	for _, allowedOrigin := range allowed {
		if allowedOrigin == "*" || strings.EqualFold(allowedOrigin, origin) {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// principalFromRequest verifies a bearer credential presented on an HTTP
// request. No credential yields the anonymous Principal; a presented but
// unusable one is an *auth.AuthError.
func (h *Handler) principalFromRequest(r *http.Request) (auth.Principal, error) {
	token, ok := auth.TokenFromRequest(r)
	if !ok {
		return auth.Principal{}, &auth.AuthError{Reason: auth.ReasonMalformed, Err: ErrMalformedAuthorization}
	}
	if token == "" {
		return auth.Principal{}, nil
	}
	if h.tokens == nil {
		return auth.Principal{}, &auth.AuthError{Reason: auth.ReasonInvalid, Err: errors.New("token verification is not configured")}
	}
	return h.tokens.Verify(token)
}

// respondAuthError maps an AuthError to 401 (credential problem) or 403
// (valid identity, access refused).
func respondAuthError(rw *ResponseWriter, err error) {
	switch auth.ReasonOf(err) {
	case auth.ReasonForbidden:
		rw.Forbidden("access to this session is not permitted")
	case auth.ReasonMissing:
		rw.Unauthorized(ErrCodeAuthRequired, "a bearer credential is required")
	default:
		rw.Unauthorized(ErrCodeAuthInvalid, "credential rejected: "+string(auth.ReasonOf(err)))
	}
}

// sanitizeLogValue strips control characters from client-supplied values
// before they reach a log line.
func sanitizeLogValue(s string) string {
	const maxLen = 256
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
