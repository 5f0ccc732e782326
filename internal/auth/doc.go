// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

/*
Package auth verifies connection credentials and decides what a connection
may do.

Key Components:

  - TokenManager: issues and verifies HS256 JWTs (golang-jwt/jwt/v5). The
    "sub" claim is the actor id; expiry is required.
  - Principal: the identity bound to a connection. The zero value is the
    anonymous principal.
  - AuthError: every rejected credential or access check, classified by
    Reason (missing, malformed, expired, invalid, forbidden).
  - AccessPolicy: a casbin RBAC enforcer over (subject, session kind,
    action). Authenticated principals inherit every anonymous grant; the
    anonymous role is granted join, submit and sync on the configured
    anonymous kinds.
  - TokenFromRequest: extracts a bearer credential from the Authorization
    header or the "token" query parameter.

Usage:

	tokens, err := auth.NewTokenManager(&cfg.Security)
	policy, err := auth.NewAccessPolicy(cfg.Security.AnonymousKinds)

	p, err := tokens.Verify(raw)
	if err := policy.Authorize(p, models.KindGame, auth.ActionSubmit); err != nil {
	    // auth.ReasonOf(err) == auth.ReasonForbidden
	}

Thread Safety:

TokenManager is immutable after construction. AccessPolicy wraps a casbin
SyncedEnforcer and is safe for concurrent use.
*/
package auth
