// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package api

import (
	"context"
	"net/http"
	"time"
)

// readyPingTimeout bounds the store ping of a readiness probe.
const readyPingTimeout = 2 * time.Second

// HealthLive handles liveness probe requests (Kubernetes-style).
// Returns 200 OK whenever the process can serve HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles readiness probe requests (Kubernetes-style).
// Returns 200 OK only when the event store answers a ping and the
// dispatcher is accepting submissions; 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
	defer cancel()

	storeConnected := h.store != nil && h.store.Ping(ctx) == nil
	dispatcherRunning := h.dispatcher != nil && h.dispatcher.Running()
	ready := storeConnected && dispatcherRunning

	data := map[string]interface{}{
		"store_connected":    storeConnected,
		"dispatcher_running": dispatcherRunning,
		"ready_to_serve":     ready,
		"uptime":             time.Since(h.startTime).Seconds(),
	}
	if h.gateway != nil {
		data["connections"] = h.gateway.Hub().GetClientCount()
		data["sessions"] = h.gateway.Hub().SessionCount()
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	NewResponseWriter(w, r).WithStatus(statusCode, ready, data)
}
