// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/crossplay/internal/auth"
	"github.com/tomtom215/crossplay/internal/config"
	"github.com/tomtom215/crossplay/internal/eventstore"
	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/models"
	"github.com/tomtom215/crossplay/internal/ratelimit"
	ws "github.com/tomtom215/crossplay/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

const testSecret = "api-test-secret-0123456789abcdefghij"

type testServer struct {
	srv        *httptest.Server
	store      *toggleStore
	tokens     *auth.TokenManager
	gateway    *ws.Gateway
	dispatcher *ws.Dispatcher
}

// toggleStore fails every call while broken is set.
type toggleStore struct {
	eventstore.Store
	mu     sync.Mutex
	broken bool
}

func (s *toggleStore) setBroken(b bool) {
	s.mu.Lock()
	s.broken = b
	s.mu.Unlock()
}

func (s *toggleStore) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return eventstore.ErrUnavailable
	}
	return nil
}

func (s *toggleStore) All(ctx context.Context, k models.SessionKey) ([]models.Event, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.Store.All(ctx, k)
}

func (s *toggleStore) Since(ctx context.Context, k models.SessionKey, since int64) ([]models.Event, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.Store.Since(ctx, k, since)
}

func (s *toggleStore) Ping(ctx context.Context) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.Store.Ping(ctx)
}

func newTestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Environment: "production"},
		WebSocket: config.WebSocketConfig{
			AllowedOrigins:    []string{"https://play.example.com"},
			UpgradeRateLimit:  1000,
			UpgradeRateWindow: time.Minute,
		},
		Security: config.SecurityConfig{JWTSecret: testSecret, TokenTTL: time.Hour, AnonymousKinds: []string{"room"}},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	store := &toggleStore{Store: eventstore.NewMemoryStore(nil)}
	tokens, err := auth.NewTokenManager(&cfg.Security)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	policy, err := auth.NewAccessPolicy(cfg.Security.AnonymousKinds)
	if err != nil {
		t.Fatalf("NewAccessPolicy: %v", err)
	}
	hub := ws.NewHub(2)
	dispatcher := ws.NewDispatcher(store, hub, ws.DispatcherConfig{Shards: 2, QueueDepth: 16})
	gateway := ws.NewGateway(ws.GatewayDeps{
		Store:      store,
		Hub:        hub,
		Dispatcher: dispatcher,
		Limiter:    ratelimit.New(ratelimit.Config{ConnectionMaxEvents: 100, ActorMaxEvents: 100}),
		Tokens:     tokens,
		Policy:     policy,
	}, ws.DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = dispatcher.RunWithContext(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !dispatcher.Running() {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	handler := NewHandler(HandlerDeps{
		Config:     cfg,
		Store:      store,
		Gateway:    gateway,
		Dispatcher: dispatcher,
		Tokens:     tokens,
		Policy:     policy,
	})
	srv := httptest.NewServer(NewRouter(handler, NewChiMiddlewareFromConfig(cfg)).SetupChi())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &testServer{srv: srv, store: store, tokens: tokens, gateway: gateway, dispatcher: dispatcher}
}

func (ts *testServer) issue(t *testing.T, actor string) string {
	t.Helper()
	tok, err := ts.tokens.Issue(actor, actor)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (ts *testServer) seed(t *testing.T, key models.SessionKey, n int) []models.Event {
	t.Helper()
	out := make([]models.Event, 0, n)
	for i := 0; i < n; i++ {
		d, err := models.NewDraft(models.ChatPayload{Text: "hello"})
		if err != nil {
			t.Fatal(err)
		}
		res, err := ts.store.Append(context.Background(), d.ToEvent(key, "alice"))
		if err != nil {
			t.Fatalf("seed append: %v", err)
		}
		out = append(out, res.Event)
	}
	return out
}

type eventsEnvelope struct {
	Success bool                  `json:"success"`
	Data    SessionEventsResponse `json:"data"`
	Error   *APIError             `json:"error"`
}

func (ts *testServer) get(t *testing.T, path, token string) (*http.Response, eventsEnvelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var env eventsEnvelope
	body, _ := io.ReadAll(resp.Body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, body)
		}
	}
	return resp, env
}

func TestSessionEvents(t *testing.T) {
	ts := newTestServer(t, newTestConfig())
	game := models.SessionKey{Kind: models.KindGame, ID: "g1"}
	room := models.SessionKey{Kind: models.KindRoom, ID: "lobby"}
	seeded := ts.seed(t, game, 3)
	ts.seed(t, room, 1)
	alice := ts.issue(t, "alice")

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
		wantCode   string
		wantEvents int
	}{
		{name: "full history", path: "/api/v1/sessions/game/g1/events", token: alice, wantStatus: 200, wantEvents: 3},
		{name: "since is strictly after", path: "/api/v1/sessions/game/g1/events?since=" + itoa(seeded[0].Timestamp), token: alice, wantStatus: 200, wantEvents: 2},
		{name: "since past the end", path: "/api/v1/sessions/game/g1/events?since=" + itoa(seeded[2].Timestamp), token: alice, wantStatus: 200, wantEvents: 0},
		{name: "unknown session is empty", path: "/api/v1/sessions/game/nope/events", token: alice, wantStatus: 200, wantEvents: 0},
		{name: "namespaces are disjoint", path: "/api/v1/sessions/room/g1/events", token: alice, wantStatus: 200, wantEvents: 0},
		{name: "anonymous on open kind", path: "/api/v1/sessions/room/lobby/events", wantStatus: 200, wantEvents: 1},
		{name: "anonymous on protected kind", path: "/api/v1/sessions/game/g1/events", wantStatus: 401, wantCode: ErrCodeAuthRequired},
		{name: "garbage token", path: "/api/v1/sessions/game/g1/events", token: "not.a.jwt", wantStatus: 401, wantCode: ErrCodeAuthInvalid},
		{name: "unknown kind", path: "/api/v1/sessions/lobby/g1/events", token: alice, wantStatus: 400, wantCode: ErrCodeValidationFailed},
		{name: "bad session id", path: "/api/v1/sessions/game/bad%20id/events", token: alice, wantStatus: 400, wantCode: ErrCodeValidationFailed},
		{name: "negative since", path: "/api/v1/sessions/game/g1/events?since=-1", token: alice, wantStatus: 400, wantCode: ErrCodeValidationFailed},
		{name: "non-numeric since", path: "/api/v1/sessions/game/g1/events?since=abc", token: alice, wantStatus: 400, wantCode: ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := ts.get(t, tt.path, tt.token)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (error %+v)", resp.StatusCode, tt.wantStatus, env.Error)
			}
			if tt.wantCode != "" {
				if env.Error == nil || env.Error.Code != tt.wantCode {
					t.Fatalf("error = %+v, want code %s", env.Error, tt.wantCode)
				}
				return
			}
			if !env.Success {
				t.Fatalf("success = false: %+v", env.Error)
			}
			if len(env.Data.Events) != tt.wantEvents {
				t.Fatalf("got %d events, want %d", len(env.Data.Events), tt.wantEvents)
			}
			for i := 1; i < len(env.Data.Events); i++ {
				if env.Data.Events[i].Timestamp <= env.Data.Events[i-1].Timestamp {
					t.Errorf("events not strictly increasing at %d", i)
				}
			}
		})
	}
}

func TestSessionEvents_MalformedAuthorizationHeader(t *testing.T) {
	ts := newTestServer(t, newTestConfig())
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/v1/sessions/room/r1/events", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("401 without a bearer challenge")
	}
}

func TestSessionEvents_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t, newTestConfig())
	ts.store.setBroken(true)

	resp, env := ts.get(t, "/api/v1/sessions/room/r1/events", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != ErrCodePersistenceError {
		t.Errorf("error = %+v, want %s", env.Error, ErrCodePersistenceError)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("503 without Retry-After")
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, newTestConfig())

	resp, err := ts.srv.Client().Get(ts.srv.URL + "/api/v1/health/live")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live = %d, want 200", resp.StatusCode)
	}

	readyStatus := func() int {
		resp, err := ts.srv.Client().Get(ts.srv.URL + "/api/v1/health/ready")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if got := readyStatus(); got != http.StatusOK {
		t.Errorf("ready = %d, want 200", got)
	}
	ts.store.setBroken(true)
	if got := readyStatus(); got != http.StatusServiceUnavailable {
		t.Errorf("ready with broken store = %d, want 503", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, newTestConfig())
	resp, err := ts.srv.Client().Get(ts.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "crossplay_") {
		t.Errorf("metrics = %d, body missing crossplay_ collectors", resp.StatusCode)
	}
}

func wsURL(ts *testServer, query string) string {
	u := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func TestWebSocketUpgrade(t *testing.T) {
	ts := newTestServer(t, newTestConfig())
	alice := ts.issue(t, "alice")

	other, err := auth.NewTokenManager(&config.SecurityConfig{JWTSecret: "other-secret-0123456789abcdefghijkl", TokenTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	foreign, _ := other.Issue("mallory", "")

	tests := []struct {
		name       string
		header     http.Header
		query      string
		wantStatus int // 0 means the upgrade succeeds
	}{
		{name: "anonymous native client", header: http.Header{}},
		{name: "bearer header", header: http.Header{"Authorization": {"Bearer " + alice}}},
		{name: "query token", header: http.Header{}, query: "token=" + alice},
		{name: "allowed browser origin", header: http.Header{"Origin": {"https://play.example.com"}}},
		{name: "foreign signature", header: http.Header{"Authorization": {"Bearer " + foreign}}, wantStatus: http.StatusUnauthorized},
		{name: "garbage query token", header: http.Header{}, query: "token=garbage", wantStatus: http.StatusUnauthorized},
		{name: "non-bearer header", header: http.Header{"Authorization": {"Token abc"}}, wantStatus: http.StatusUnauthorized},
		{name: "disallowed origin", header: http.Header{"Origin": {"https://evil.example.com"}}, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := gorillaws.DefaultDialer.Dial(wsURL(ts, tt.query), tt.header)
			if resp != nil && resp.Body != nil {
				defer resp.Body.Close()
			}
			if tt.wantStatus == 0 {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				defer conn.Close()
				probe := map[string]interface{}{"type": "latencyProbe", "requestId": "p", "payload": map[string]int64{"clientTimestamp": 7}}
				if err := conn.WriteJSON(probe); err != nil {
					t.Fatal(err)
				}
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				var f ws.Frame
				if err := conn.ReadJSON(&f); err != nil {
					t.Fatalf("read: %v", err)
				}
				if f.Type != ws.MessageTypeLatencyProbeResponse {
					t.Errorf("frame type = %s, want latency probe response", f.Type)
				}
				return
			}
			if err == nil {
				conn.Close()
				t.Fatal("upgrade succeeded, want rejection")
			}
			if !errors.Is(err, gorillaws.ErrBadHandshake) || resp == nil || resp.StatusCode != tt.wantStatus {
				status := 0
				if resp != nil {
					status = resp.StatusCode
				}
				t.Fatalf("dial error %v status %d, want %d", err, status, tt.wantStatus)
			}
		})
	}
}

func TestWebSocketUpgradeRateLimit(t *testing.T) {
	cfg := newTestConfig()
	cfg.WebSocket.UpgradeRateLimit = 2
	ts := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		conn, _, err := gorillaws.DefaultDialer.Dial(wsURL(ts, ""), nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conn.Close()
	}
	_, resp, err := gorillaws.DefaultDialer.Dial(wsURL(ts, ""), nil)
	if err == nil {
		t.Fatal("third upgrade inside the window should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("resp = %v, want 429", resp)
	}
	resp.Body.Close()
}

func TestCheckWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no origin", env: "production", allowed: []string{"https://a.example"}, origin: "", want: true},
		{name: "exact match", env: "production", allowed: []string{"https://a.example"}, origin: "https://a.example", want: true},
		{name: "case-insensitive", env: "production", allowed: []string{"https://A.example"}, origin: "https://a.example", want: true},
		{name: "wildcard", env: "production", allowed: []string{"*"}, origin: "https://x.example", want: true},
		{name: "mismatch", env: "production", allowed: []string{"https://a.example"}, origin: "https://b.example", want: false},
		{name: "empty list in production", env: "production", origin: "https://b.example", want: false},
		{name: "empty list in development", env: "development", origin: "https://b.example", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(HandlerDeps{Config: &config.Config{
				Server:    config.ServerConfig{Environment: tt.env},
				WebSocket: config.WebSocketConfig{AllowedOrigins: tt.allowed},
			}})
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := h.checkWebSocketOrigin(r); got != tt.want {
				t.Errorf("checkWebSocketOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeLogValue(t *testing.T) {
	got := sanitizeLogValue("evil\r\nlevel=error\x00")
	if strings.ContainsAny(got, "\r\n\x00") {
		t.Errorf("control characters survived: %q", got)
	}
	if long := sanitizeLogValue(strings.Repeat("a", 1000)); len(long) != 256 {
		t.Errorf("len = %d, want 256", len(long))
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
