// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/crossplay/internal/auth"
	"github.com/tomtom215/crossplay/internal/eventstore"
	"github.com/tomtom215/crossplay/internal/logging"
	"github.com/tomtom215/crossplay/internal/metrics"
	"github.com/tomtom215/crossplay/internal/models"
	"github.com/tomtom215/crossplay/internal/ratelimit"
)

// Gateway errors mapped to errorNotice codes.
var (
	ErrNotJoined         = errors.New("connection has not joined this session")
	ErrSyncThrottled     = errors.New("too many sync requests")
	ErrAlreadyAuthorized = errors.New("connection is already authenticated")
)

// readTimeout bounds one sync read.
const readTimeout = 10 * time.Second

// Options tunes connection handling.
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
	// SyncRate and SyncBurst bound sync requests per connection. Sync is
	// exempt from the event limiter.
	SyncRate  rate.Limit
	SyncBurst int
	// Now is the server clock used for latency probes; defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
		SyncRate:       2,
		SyncBurst:      5,
		Now:            time.Now,
	}
}

// Gateway authenticates connections and serves event submission, sync and
// latency probes on top of the hub, dispatcher, store and limiter.
type Gateway struct {
	opts       Options
	store      eventstore.Store
	hub        *Hub
	dispatcher *Dispatcher
	limiter    *ratelimit.Limiter
	tokens     *auth.TokenManager
	policy     *auth.AccessPolicy
}

// GatewayDeps are the collaborators of a Gateway.
type GatewayDeps struct {
	Store      eventstore.Store
	Hub        *Hub
	Dispatcher *Dispatcher
	Limiter    *ratelimit.Limiter
	Tokens     *auth.TokenManager
	Policy     *auth.AccessPolicy
}

// NewGateway creates a Gateway.
func NewGateway(deps GatewayDeps, opts Options) *Gateway {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 1
	}
	if opts.SyncBurst < 1 {
		opts.SyncBurst = 1
	}
	return &Gateway{
		opts:       opts,
		store:      deps.Store,
		hub:        deps.Hub,
		dispatcher: deps.Dispatcher,
		limiter:    deps.Limiter,
		tokens:     deps.Tokens,
		policy:     deps.Policy,
	}
}

// Hub returns the gateway's session registry.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Accept takes ownership of an upgraded connection. p is the principal
// verified at upgrade time, or the zero Principal for anonymous connections.
func (g *Gateway) Accept(conn *websocket.Conn, p auth.Principal, remoteAddr string) *Client {
	c := newClient(g, conn, p, remoteAddr)
	g.hub.Register(c)
	c.Start()
	return c
}

// disconnect tears down a connection's server-side state.
func (g *Gateway) disconnect(c *Client) {
	c.Close(websocket.CloseNormalClosure, "")
	g.hub.Unregister(c)
	if g.limiter != nil {
		g.limiter.Forget(c.connID)
	}
}

// handle decodes one inbound frame and routes it.
func (g *Gateway) handle(c *Client, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		metrics.WSMessagesReceived.WithLabelValues("invalid").Inc()
		c.replyError("", ErrorNotice{Code: CodeBadRequest, Message: "malformed frame"})
		return
	}
	metrics.WSMessagesReceived.WithLabelValues(messageTypeLabel(f.Type)).Inc()

	switch f.Type {
	case MessageTypeAuthenticate:
		g.handleAuthenticate(c, &f)
	case MessageTypeJoin:
		g.handleJoin(c, &f)
	case MessageTypeLeave:
		g.handleLeave(c, &f)
	case MessageTypeSubmitEvent:
		g.handleSubmit(c, &f)
	case MessageTypeRequestFullSync:
		g.handleSync(c, &f, false)
	case MessageTypeRequestIncrementalSync:
		g.handleSync(c, &f, true)
	case MessageTypeLatencyProbe:
		g.handleLatencyProbe(c, &f)
	default:
		c.replyError(f.RequestID, ErrorNotice{Code: CodeBadRequest, Message: "unknown message type " + f.Type})
	}
}

// messageTypeLabel keeps metric cardinality bounded.
func messageTypeLabel(typ string) string {
	switch typ {
	case MessageTypeAuthenticate, MessageTypeJoin, MessageTypeLeave, MessageTypeSubmitEvent,
		MessageTypeRequestFullSync, MessageTypeRequestIncrementalSync, MessageTypeLatencyProbe:
		return typ
	}
	return "unknown"
}

func (g *Gateway) handleAuthenticate(c *Client, f *Frame) {
	var req AuthenticateRequest
	if err := decodePayload(f, &req); err != nil {
		c.replyError(f.RequestID, ErrorNotice{Code: CodeBadRequest, Message: err.Error()})
		return
	}
	p, err := g.Authenticate(c, req.Token)
	if err != nil {
		if errors.Is(err, ErrAlreadyAuthorized) {
			c.replyError(f.RequestID, ErrorNotice{Code: CodeBadRequest, Message: err.Error()})
			return
		}
		g.rejectAuth(c, f.RequestID, err)
		return
	}
	c.reply(MessageTypeAuthenticated, f.RequestID, AuthenticatedResponse{ActorID: p.ActorID, DisplayName: p.DisplayName})
}

// Authenticate verifies token and binds the principal to c for the rest of
// its lifetime. A connection that already has a principal cannot switch.
func (g *Gateway) Authenticate(c *Client, token string) (auth.Principal, error) {
	if !c.Principal().Anonymous() {
		return auth.Principal{}, ErrAlreadyAuthorized
	}
	if g.tokens == nil {
		return auth.Principal{}, &auth.AuthError{Reason: auth.ReasonInvalid, Err: errors.New("token verification unavailable")}
	}
	p, err := g.tokens.Verify(token)
	if err != nil {
		return auth.Principal{}, err
	}
	c.setPrincipal(p)
	logging.Ctx(c.ctx).Info().Str("actor_id", p.ActorID).Msg("connection authenticated")
	return p, nil
}

// rejectAuth reports an AuthError and terminates the connection.
func (g *Gateway) rejectAuth(c *Client, requestID string, err error) {
	reason := auth.ReasonOf(err)
	if reason == "" {
		reason = auth.ReasonInvalid
	}
	metrics.AuthFailures.WithLabelValues(string(reason)).Inc()
	logging.Ctx(c.ctx).Warn().
		Str("reason", string(reason)).
		Str("actor_id", c.Principal().ActorID).
		Str("remote_addr", c.remoteAddr).
		Msg("connection rejected by auth")

	code := CodeAuthInvalid
	switch reason {
	case auth.ReasonMissing:
		code = CodeAuthRequired
	case auth.ReasonForbidden:
		code = CodeForbidden
	}
	c.replyError(requestID, ErrorNotice{Code: code, Message: err.Error()})
	c.Close(websocket.ClosePolicyViolation, string(reason))
}

// authorize resolves the session and checks the policy for act. On failure
// it has already replied (and closed the connection for auth errors).
func (g *Gateway) authorize(c *Client, requestID string, ref SessionRef, act auth.Action) (models.SessionKey, bool) {
	key, err := ref.Key()
	if err != nil {
		c.replyError(requestID, ErrorNotice{Code: CodeValidationError, Message: err.Error()})
		return models.SessionKey{}, false
	}
	if g.policy != nil {
		if err := g.policy.Authorize(c.Principal(), key.Kind, act); err != nil {
			g.rejectAuth(c, requestID, err)
			return models.SessionKey{}, false
		}
	}
	return key, true
}

func (g *Gateway) handleJoin(c *Client, f *Frame) {
	var ref SessionRef
	if err := decodePayload(f, &ref); err != nil {
		c.replyError(f.RequestID, ErrorNotice{Code: CodeBadRequest, Message: err.Error()})
		return
	}
	key, ok := g.authorize(c, f.RequestID, ref, auth.ActionJoin)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), readTimeout)
	defer cancel()
	latest, err := g.store.Latest(ctx, key)
	if err != nil {
		c.replyError(f.RequestID, noticeFor(err))
		return
	}

	if g.hub.Join(c, key) {
		logging.Ctx(c.ctx).Debug().Str("session", key.String()).Msg("joined session")
	}
	c.reply(MessageTypeJoined, f.RequestID, JoinedResponse{SessionRef: refOf(key), LatestTimestamp: latest})
}

func (g *Gateway) handleLeave(c *Client, f *Frame) {
	var ref SessionRef
	if err := decodePayload(f, &ref); err != nil {
		c.replyError(f.RequestID, ErrorNotice{Code: CodeBadRequest, Message: err.Error()})
		return
	}
	key, err := ref.Key()
	if err != nil {
		c.replyError(f.RequestID, ErrorNotice{Code: CodeValidationError, Message: err.Error()})
		return
	}
	g.hub.Leave(c, key)
	c.reply(MessageTypeLeft, f.RequestID, refOf(key))
}

func (g *Gateway) handleSubmit(c *Client, f *Frame) {
	var req SubmitEventRequest
	if err := decodePayload(f, &req); err != nil {
		c.replyError(f.RequestID, ErrorNotice{Code: CodeBadRequest, Message: err.Error()})
		return
	}
	if err := g.SubmitEvent(c, f.RequestID, req.SessionRef, &req.Event); err != nil && !errors.Is(err, errRejected) {
		c.replyError(f.RequestID, noticeFor(err))
	}
}

// errRejected means SubmitEvent already replied and possibly closed.
var errRejected = errors.New("rejected")

// SubmitEvent runs the submission pipeline: rate limit, access check,
// membership, closed payload validation, then hands the event to the
// session's dispatcher worker. The ack (or a PERSISTENCE_ERROR) is sent
// asynchronously once the append completes.
func (g *Gateway) SubmitEvent(c *Client, requestID string, ref SessionRef, draft *models.Draft) error {
	p := c.Principal()
	if g.limiter != nil && !g.limiter.CheckAndRecord(c.connID, p.ActorID) {
		g.rejectRateLimited(c, requestID, p)
		return errRejected
	}

	key, ok := g.authorize(c, requestID, ref, auth.ActionSubmit)
	if !ok {
		return errRejected
	}
	if !c.isMember(key) {
		return ErrNotJoined
	}
	if _, err := draft.Validate(key.Kind); err != nil {
		return err
	}

	event := draft.ToEvent(key, p.ActorID)
	err := g.dispatcher.Submit(c.ctx, event, c.connID, func(res DispatchResult) {
		if res.Err != nil {
			c.replyError(requestID, noticeFor(res.Err))
			return
		}
		c.reply(MessageTypeAck, requestID, AckResponse{
			SessionRef: refOf(key),
			Event:      res.Result.Event,
			Duplicate:  res.Result.Duplicate,
		})
	})
	if err != nil && c.ctx.Err() != nil {
		// Connection is gone; nothing to report to.
		return errRejected
	}
	return err
}

// rejectRateLimited is connection-fatal. The event was not stored, so the
// notice is retryable once the client reconnects.
func (g *Gateway) rejectRateLimited(c *Client, requestID string, p auth.Principal) {
	connCount, actorCount := g.limiter.Counts(c.connID, p.ActorID)
	logging.Ctx(c.ctx).Warn().
		Str("actor_id", p.ActorID).
		Str("remote_addr", c.remoteAddr).
		Int("connection_events", connCount).
		Int("actor_events", actorCount).
		Msg("rate limit exceeded, closing connection")

	c.replyError(requestID, ErrorNotice{Code: CodeRateLimited, Message: "event rate limit exceeded", Retryable: true})
	c.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
}

func (g *Gateway) handleSync(c *Client, f *Frame, incremental bool) {
	var (
		ref   SessionRef
		since *int64
	)
	if incremental {
		var req IncrementalSyncRequest
		if err := decodePayload(f, &req); err != nil {
			c.replyError(f.RequestID, ErrorNotice{Code: CodeBadRequest, Message: err.Error()})
			return
		}
		ref, since = req.SessionRef, &req.Since
	} else if err := decodePayload(f, &ref); err != nil {
		c.replyError(f.RequestID, ErrorNotice{Code: CodeBadRequest, Message: err.Error()})
		return
	}

	key, ok := g.authorize(c, f.RequestID, ref, auth.ActionSync)
	if !ok {
		return
	}
	if !c.syncLimiter.Allow() {
		metrics.RecordSync(incremental, 0, ErrSyncThrottled)
		c.replyError(f.RequestID, noticeFor(ErrSyncThrottled))
		return
	}

	events, err := g.RequestSync(c.ctx, key, since)
	if err != nil {
		c.replyError(f.RequestID, noticeFor(err))
		return
	}
	typ := MessageTypeFullSyncResponse
	if incremental {
		typ = MessageTypeIncrementalSyncResponse
	}
	c.reply(typ, f.RequestID, SyncResponse{SessionRef: refOf(key), Events: events, Since: since})
}

// RequestSync reads the full history (since == nil) or the events strictly
// after *since. The read is not aborted when the connection goes away; its
// result is simply dropped.
func (g *Gateway) RequestSync(ctx context.Context, key models.SessionKey, since *int64) ([]models.Event, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readTimeout)
	defer cancel()

	var (
		events []models.Event
		err    error
	)
	if since == nil {
		events, err = g.store.All(rctx, key)
	} else {
		events, err = g.store.Since(rctx, key, *since)
	}
	metrics.RecordSync(since != nil, len(events), err)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

func (g *Gateway) handleLatencyProbe(c *Client, f *Frame) {
	var req LatencyProbeRequest
	if err := decodePayload(f, &req); err != nil {
		c.replyError(f.RequestID, ErrorNotice{Code: CodeBadRequest, Message: err.Error()})
		return
	}
	c.reply(MessageTypeLatencyProbeResponse, f.RequestID, g.LatencyProbe(req.ClientTimestamp))
}

// LatencyProbe echoes the client clock with the server clock in Unix
// milliseconds. It has no side effects and needs no membership.
func (g *Gateway) LatencyProbe(clientTimestamp int64) LatencyProbeResponse {
	return LatencyProbeResponse{
		ClientTimestamp: clientTimestamp,
		ServerTimestamp: g.opts.Now().UnixMilli(),
	}
}

// noticeFor maps recoverable errors to an errorNotice.
func noticeFor(err error) ErrorNotice {
	switch {
	case models.IsValidationError(err):
		return ErrorNotice{Code: CodeValidationError, Message: err.Error()}
	case errors.Is(err, ErrNotJoined):
		return ErrorNotice{Code: CodeNotJoined, Message: err.Error()}
	case errors.Is(err, ErrSyncThrottled):
		return ErrorNotice{Code: CodeSyncThrottled, Message: err.Error(), Retryable: true}
	case eventstore.IsPersistenceError(err):
		return ErrorNotice{Code: CodePersistenceError, Message: err.Error(), Retryable: true}
	case errors.Is(err, ErrDispatcherStopped):
		return ErrorNotice{Code: CodeInternal, Message: err.Error(), Retryable: true}
	default:
		return ErrorNotice{Code: CodeInternal, Message: "internal error", Retryable: true}
	}
}
