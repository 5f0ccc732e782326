// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/tomtom215/crossplay/internal/models"
)

// Action is something a connection does to a session.
type Action string

// Actions checked by the access policy.
const (
	ActionJoin   Action = "join"
	ActionSubmit Action = "submit"
	ActionSync   Action = "sync"
)

const (
	subjectAnonymous     = "anonymous"
	subjectAuthenticated = "authenticated"
)

// Authenticated principals inherit every anonymous grant.
const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// AccessPolicy decides which session kinds accept anonymous connections.
type AccessPolicy struct {
	enforcer *casbin.SyncedEnforcer
}

// NewAccessPolicy builds the policy. anonymousKinds lists the session kinds
// open to connections without a credential; authenticated connections may
// use every kind.
func NewAccessPolicy(anonymousKinds []string) (*AccessPolicy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if _, err := enforcer.AddGroupingPolicy(subjectAuthenticated, subjectAnonymous); err != nil {
		return nil, fmt.Errorf("failed to add grouping policy: %w", err)
	}
	actions := []Action{ActionJoin, ActionSubmit, ActionSync}
	for _, kind := range []models.SessionKind{models.KindGame, models.KindRoom} {
		for _, act := range actions {
			if _, err := enforcer.AddPolicy(subjectAuthenticated, string(kind), string(act)); err != nil {
				return nil, fmt.Errorf("failed to add policy: %w", err)
			}
		}
	}
	for _, kind := range anonymousKinds {
		if _, err := models.ParseSessionKind(kind); err != nil {
			return nil, fmt.Errorf("anonymous kinds: %w", err)
		}
		for _, act := range actions {
			if _, err := enforcer.AddPolicy(subjectAnonymous, kind, string(act)); err != nil {
				return nil, fmt.Errorf("failed to add policy: %w", err)
			}
		}
	}

	return &AccessPolicy{enforcer: enforcer}, nil
}

// Authorize returns nil when p may perform act on sessions of kind. An
// anonymous principal that is refused gets ReasonMissing (a credential would
// help); an authenticated one gets ReasonForbidden.
func (a *AccessPolicy) Authorize(p Principal, kind models.SessionKind, act Action) error {
	subject := subjectAuthenticated
	if p.Anonymous() {
		subject = subjectAnonymous
	}

	allowed, err := a.enforcer.Enforce(subject, string(kind), string(act))
	if err != nil {
		return fmt.Errorf("enforcement failed: %w", err)
	}
	if allowed {
		return nil
	}
	if p.Anonymous() {
		return &AuthError{Reason: ReasonMissing, Err: fmt.Errorf("%s sessions require a credential", kind)}
	}
	return &AuthError{Reason: ReasonForbidden, Err: fmt.Errorf("%s on %s sessions not permitted", act, kind)}
}

// OpenToAnonymous reports whether kind accepts connections without a credential.
func (a *AccessPolicy) OpenToAnonymous(kind models.SessionKind) bool {
	return a.Authorize(Principal{}, kind, ActionJoin) == nil
}
