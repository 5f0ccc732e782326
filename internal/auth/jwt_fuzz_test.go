// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package auth

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/tomtom215/crossplay/internal/config"
)

func newFuzzManager(f *testing.F) *TokenManager {
	f.Helper()
	m, err := NewTokenManager(&config.SecurityConfig{
		JWTSecret:   "test-secret-key-for-fuzzing-at-least-32-chars-long",
		TokenIssuer: "crossplay",
		TokenTTL:    time.Hour,
	})
	if err != nil {
		f.Fatal(err)
	}
	return m
}

// FuzzVerify feeds malformed, tampered and hostile credentials to Verify.
func FuzzVerify(f *testing.F) {
	m := newFuzzManager(f)

	valid, err := m.Issue("actor-1", "Ada")
	if err != nil {
		f.Fatal(err)
	}
	f.Add(valid)
	f.Add("")
	f.Add("invalid.token.here")
	f.Add("eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJhZG1pbiJ9.invalid")                 // bad signature
	f.Add("eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJhZG1pbiJ9.")                         // alg none
	f.Add("eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJhZG1pbiJ9.sig")                     // alg confusion
	f.Add("..." + valid)
	f.Add(valid + "...")
	f.Add(valid[:len(valid)-5])
	f.Add("Bearer " + valid)
	f.Add("\x00" + valid)
	f.Add(valid + "\x00")

	f.Fuzz(func(t *testing.T, token string) {
		p, err := m.Verify(token)

		if err != nil {
			if ReasonOf(err) == "" {
				t.Errorf("Verify error %v is not an AuthError", err)
			}
			if !p.Anonymous() {
				t.Error("Verify returned a principal together with an error")
			}
			return
		}
		if p.ActorID == "" {
			t.Error("Verify accepted a credential without a subject")
		}
		if strings.IndexByte(token, 0) >= 0 {
			t.Error("Verify accepted a credential with a null byte")
		}
	})
}

// FuzzIssueVerify checks that every issued credential verifies back to the
// same identity.
func FuzzIssueVerify(f *testing.F) {
	m := newFuzzManager(f)

	f.Add("actor-1", "Ada")
	f.Add("", "")
	f.Add("user@example.com", "")
	f.Add("actor\x00id", "name")
	f.Add("actor", "name\nname")
	f.Add("<script>alert('x')</script>", "Bob")
	f.Add(string(make([]byte, 1000)), "long")

	f.Fuzz(func(t *testing.T, actorID, displayName string) {
		token, err := m.Issue(actorID, displayName)
		if err != nil {
			if actorID != "" {
				t.Errorf("Issue(%q) failed: %v", actorID, err)
			}
			return
		}

		p, err := m.Verify(token)
		if err != nil {
			t.Fatalf("issued credential failed verification: %v", err)
		}
		// Invalid UTF-8 does not survive JSON encoding unchanged.
		if utf8.ValidString(actorID) && p.ActorID != actorID {
			t.Errorf("ActorID = %q, want %q", p.ActorID, actorID)
		}
		if utf8.ValidString(displayName) && p.DisplayName != displayName {
			t.Errorf("DisplayName = %q, want %q", p.DisplayName, displayName)
		}
		if !p.ExpiresAt.After(time.Now()) {
			t.Errorf("ExpiresAt %v is not in the future", p.ExpiresAt)
		}
	})
}
