// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/crossplay/internal/config"
)

// Claims are the JWT claims of a connection credential. The actor id is the
// registered "sub" claim.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the identity bound to a connection after verification.
// The zero value (Anonymous) is used for connections without a credential.
type Principal struct {
	ActorID     string
	DisplayName string
	ExpiresAt   time.Time
}

// Anonymous reports whether no credential was verified.
func (p Principal) Anonymous() bool {
	return p.ActorID == ""
}

// Reason classifies an AuthError.
type Reason string

// AuthError reasons.
const (
	ReasonMissing   Reason = "missing"
	ReasonMalformed Reason = "malformed"
	ReasonExpired   Reason = "expired"
	ReasonInvalid   Reason = "invalid"
	ReasonForbidden Reason = "forbidden"
)

// AuthError is a rejected credential or access check.
type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Reason, e.Err)
	}
	return "auth " + string(e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the AuthError reason of err, or "" if err is not one.
func ReasonOf(err error) Reason {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// TokenManager issues and verifies HS256 connection credentials.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a TokenManager from the security configuration.
func NewTokenManager(cfg *config.SecurityConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.TokenIssuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue signs a credential for actorID.
func (m *TokenManager) Issue(actorID, displayName string) (string, error) {
	if actorID == "" {
		return "", errors.New("actor id is required")
	}
	now := m.now()
	claims := &Claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// Principal. Every failure is an *AuthError.
func (m *TokenManager) Verify(tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, &AuthError{Reason: ReasonMissing}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Principal{}, &AuthError{Reason: ReasonExpired, Err: err}
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Principal{}, &AuthError{Reason: ReasonMalformed, Err: err}
		default:
			return Principal{}, &AuthError{Reason: ReasonInvalid, Err: err}
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Principal{}, &AuthError{Reason: ReasonInvalid, Err: errors.New("invalid token claims")}
	}

	p := Principal{ActorID: claims.Subject, DisplayName: claims.DisplayName}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
