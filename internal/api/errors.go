// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package api

import (
	"errors"
	"fmt"
	"strconv"
)

// Common API errors
var (
	// ErrMalformedAuthorization is an Authorization header that is not a bearer credential.
	ErrMalformedAuthorization = errors.New("authorization header must be a bearer credential")

	// ErrInvalidCursor is a since parameter that is not a non-negative integer.
	ErrInvalidCursor = errors.New("since must be a non-negative integer timestamp")
)

// parseSince reads the optional ?since= cursor. A missing cursor means a
// full history read and returns nil.
func parseSince(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, raw)
	}
	return &v, nil
}
