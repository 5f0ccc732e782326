// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package middleware provides HTTP middleware for the Crossplay server.

Key Components:

  - RequestID: UUID request ids in the response header, request context and
    logging context
  - PrometheusMetrics: request count, latency and in-flight gauge, labelled
    by chi route pattern
  - Compression: gzip for the REST catch-up route

All three are plain func(http.Handler) http.Handler values and mount
directly with chi's Use/With:

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.With(middleware.Compression).Get("/api/v1/sessions/{kind}/{id}/events", h.SessionEvents)

PrometheusMetrics wraps the ResponseWriter but forwards http.Hijacker, so
it can sit in front of the websocket upgrade route.

See Also:

  - internal/api: router that mounts these
  - internal/metrics: collectors recorded here
*/
package middleware
