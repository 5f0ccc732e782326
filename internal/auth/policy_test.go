// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/tomtom215/crossplay/internal/models"
)

func TestAccessPolicy(t *testing.T) {
	policy, err := NewAccessPolicy([]string{"room"})
	if err != nil {
		t.Fatalf("NewAccessPolicy: %v", err)
	}
	anon := Principal{}
	user := Principal{ActorID: "u1"}

	tests := []struct {
		name      string
		principal Principal
		kind      models.SessionKind
		action    Action
		reason    Reason
	}{
		{"anonymous joins room", anon, models.KindRoom, ActionJoin, ""},
		{"anonymous submits to room", anon, models.KindRoom, ActionSubmit, ""},
		{"anonymous syncs room", anon, models.KindRoom, ActionSync, ""},
		{"anonymous refused game", anon, models.KindGame, ActionJoin, ReasonMissing},
		{"anonymous refused game sync", anon, models.KindGame, ActionSync, ReasonMissing},
		{"user joins game", user, models.KindGame, ActionJoin, ""},
		{"user submits to game", user, models.KindGame, ActionSubmit, ""},
		{"user joins room via inheritance", user, models.KindRoom, ActionJoin, ""},
		{"user refused unknown kind", user, "lobby", ActionJoin, ReasonForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Authorize(tt.principal, tt.kind, tt.action)
			if got := ReasonOf(err); got != tt.reason {
				t.Errorf("Authorize reason = %q, want %q (err=%v)", got, tt.reason, err)
			}
		})
	}

	if !policy.OpenToAnonymous(models.KindRoom) || policy.OpenToAnonymous(models.KindGame) {
		t.Error("OpenToAnonymous does not match configured kinds")
	}
}

func TestAccessPolicy_RejectsUnknownAnonymousKind(t *testing.T) {
	if _, err := NewAccessPolicy([]string{"lobby"}); err == nil {
		t.Error("expected error for unknown session kind")
	}
}

func TestTokenFromRequest_PolicyCases(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		url       string
		wantToken string
		wantOK    bool
	}{
		{"bearer header", "Bearer abc", "/ws", "abc", true},
		{"lowercase scheme", "bearer abc", "/ws", "abc", true},
		{"query parameter", "", "/ws?token=xyz", "xyz", true},
		{"header wins over query", "Bearer abc", "/ws?token=xyz", "abc", true},
		{"nothing", "", "/ws", "", true},
		{"basic scheme", "Basic Zm9vOmJhcg==", "/ws", "", false},
		{"empty bearer", "Bearer ", "/ws", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			token, ok := TokenFromRequest(r)
			if token != tt.wantToken || ok != tt.wantOK {
				t.Errorf("TokenFromRequest = (%q,%v), want (%q,%v)", token, ok, tt.wantToken, tt.wantOK)
			}
		})
	}
}
