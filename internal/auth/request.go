// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package auth

import (
	"net/http"
	"strings"
)

// TokenFromRequest extracts a bearer credential from the Authorization
// header or, for browser websocket clients that cannot set headers, the
// "token" query parameter. It returns "" when neither is present and
// ok=false when the header is present but not a bearer credential.
func TokenFromRequest(r *http.Request) (token string, ok bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	return r.URL.Query().Get("token"), true
}
