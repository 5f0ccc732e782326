// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package websocket

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/crossplay/internal/auth"
	"github.com/tomtom215/crossplay/internal/config"
	"github.com/tomtom215/crossplay/internal/eventstore"
	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/models"
	"github.com/tomtom215/crossplay/internal/ratelimit"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

const (
	testSecret = "websocket-test-secret-0123456789abcdef"
	testIssuer = "crossplay-test"
)

type testEnv struct {
	store      eventstore.Store
	hub        *Hub
	dispatcher *Dispatcher
	gateway    *Gateway
	limiter    *ratelimit.Limiter
	tokens     *auth.TokenManager
}

type envOptions struct {
	store          eventstore.Store
	anonymousKinds []string
	limiter        ratelimit.Config
	gateway        Options
	echo           bool
}

func defaultEnvOptions() envOptions {
	opts := DefaultOptions()
	opts.SendBuffer = 64
	opts.SyncRate = 1000
	opts.SyncBurst = 1000
	return envOptions{
		anonymousKinds: []string{"game", "room"},
		limiter:        ratelimit.Config{ConnectionMaxEvents: 1000, ActorMaxEvents: 1000},
		gateway:        opts,
	}
}

// newTestEnv wires a gateway over an in-memory store and starts the
// dispatcher for the lifetime of the test.
func newTestEnv(t *testing.T, mutate ...func(*envOptions)) *testEnv {
	t.Helper()
	o := defaultEnvOptions()
	for _, m := range mutate {
		m(&o)
	}
	if o.store == nil {
		o.store = eventstore.NewMemoryStore(nil)
	}

	tokens, err := auth.NewTokenManager(&config.SecurityConfig{
		JWTSecret:   testSecret,
		TokenIssuer: testIssuer,
		TokenTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	policy, err := auth.NewAccessPolicy(o.anonymousKinds)
	if err != nil {
		t.Fatalf("NewAccessPolicy: %v", err)
	}

	hub := NewHub(4)
	dispatcher := NewDispatcher(o.store, hub, DispatcherConfig{Shards: 4, QueueDepth: 64, OriginatorEcho: o.echo})
	limiter := ratelimit.New(o.limiter)
	gateway := NewGateway(GatewayDeps{
		Store:      o.store,
		Hub:        hub,
		Dispatcher: dispatcher,
		Limiter:    limiter,
		Tokens:     tokens,
		Policy:     policy,
	}, o.gateway)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = dispatcher.RunWithContext(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	waitFor(t, dispatcher.Running, "dispatcher start")

	return &testEnv{
		store:      o.store,
		hub:        hub,
		dispatcher: dispatcher,
		gateway:    gateway,
		limiter:    limiter,
		tokens:     tokens,
	}
}

// newTestClient creates a registered client without a network connection;
// frames queued for it are read straight from its send channel.
func (e *testEnv) newTestClient(p auth.Principal) *Client {
	c := newClient(e.gateway, nil, p, "192.0.2.1:5000")
	e.hub.Register(c)
	return c
}

func (e *testEnv) token(t *testing.T, actorID string) string {
	t.Helper()
	tok, err := e.tokens.Issue(actorID, "Player "+actorID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func expiredToken(t *testing.T, actorID string) string {
	t.Helper()
	past := time.Now().Add(-time.Hour)
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}
	return tok
}

func mustFrame(t *testing.T, typ, requestID string, payload interface{}) []byte {
	t.Helper()
	msg, err := encodeFrame(typ, requestID, payload)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	return msg.data
}

// send runs one inbound frame through the gateway.
func (e *testEnv) send(t *testing.T, c *Client, typ, requestID string, payload interface{}) {
	t.Helper()
	e.gateway.handle(c, mustFrame(t, typ, requestID, payload))
}

// nextFrame waits for the next queued outbound frame of c.
func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case msg := <-c.send:
		var f Frame
		if err := json.Unmarshal(msg.data, &f); err != nil {
			t.Fatalf("decode outbound frame: %v", err)
		}
		if f.Type != msg.typ {
			t.Fatalf("frame type %q does not match queued type %q", f.Type, msg.typ)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbound frame")
		return Frame{}
	}
}

// expectFrame waits for the next frame and decodes its payload into v.
func expectFrame(t *testing.T, c *Client, wantType string, v interface{}) Frame {
	t.Helper()
	f := nextFrame(t, c)
	if f.Type != wantType {
		t.Fatalf("frame type = %q, want %q (payload %s)", f.Type, wantType, f.Payload)
	}
	if v != nil {
		if err := json.Unmarshal(f.Payload, v); err != nil {
			t.Fatalf("decode %s payload: %v", wantType, err)
		}
	}
	return f
}

func expectError(t *testing.T, c *Client, wantCode string) ErrorNotice {
	t.Helper()
	var notice ErrorNotice
	expectFrame(t, c, MessageTypeErrorNotice, &notice)
	if notice.Code != wantCode {
		t.Fatalf("error code = %q, want %q (%s)", notice.Code, wantCode, notice.Message)
	}
	return notice
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected frame %s", msg.data)
	case <-time.After(50 * time.Millisecond):
	}
}

func expectClosed(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected connection to be closed")
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func gameRef(id string) SessionRef {
	return SessionRef{SessionKind: string(models.KindGame), SessionID: id}
}

func roomRef(id string) SessionRef {
	return SessionRef{SessionKind: string(models.KindRoom), SessionID: id}
}

func draftOf(t *testing.T, p models.Payload, ts int64) models.Draft {
	t.Helper()
	d, err := models.NewDraft(p)
	if err != nil {
		t.Fatalf("NewDraft: %v", err)
	}
	d.Timestamp = ts
	return d
}

func (e *testEnv) join(t *testing.T, c *Client, ref SessionRef) JoinedResponse {
	t.Helper()
	e.send(t, c, MessageTypeJoin, "join-"+ref.SessionID, ref)
	var joined JoinedResponse
	expectFrame(t, c, MessageTypeJoined, &joined)
	return joined
}

// failingStore wraps a store and fails appends while broken is set.
type failingStore struct {
	eventstore.Store
	mu     sync.Mutex
	broken bool
}

func (s *failingStore) setBroken(b bool) {
	s.mu.Lock()
	s.broken = b
	s.mu.Unlock()
}

func (s *failingStore) Append(ctx context.Context, e models.Event) (eventstore.AppendResult, error) {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return eventstore.AppendResult{}, &eventstore.PersistenceError{Op: "append", Session: e.Session, Err: errors.New("disk on fire")}
	}
	return s.Store.Append(ctx, e)
}
