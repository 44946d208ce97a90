package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ntmd/ntmd/internal/eventbus"
	"github.com/ntmd/ntmd/internal/rpc"
)

// Sender abstracts "write one outgoing frame" across stdio and WebSocket so
// clientSession doesn't need to know which transport it's running over.
type Sender interface {
	Send(data []byte) error
}

// clientSession owns one connected client's request/response and, for
// push-capable transports, its live event subscription. It mirrors the
// teacher's per-client goroutine-plus-send-channel shape but adds the
// subscribe/replay/backpressure contract the rpc layer requires.
type clientSession struct {
	id        string
	dispatcher *rpc.Dispatcher
	auth      *rpc.Authenticator
	limiter   *rpc.RateLimiter
	sender    Sender
	logger    *slog.Logger
	pushCapable bool

	sub *eventbus.Subscription
}

func newClientSession(id string, d *rpc.Dispatcher, auth *rpc.Authenticator, limiter *rpc.RateLimiter, sender Sender, pushCapable bool, logger *slog.Logger) *clientSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &clientSession{id: id, dispatcher: d, auth: auth, limiter: limiter, sender: sender, pushCapable: pushCapable, logger: logger}
}

// HandleRequest decodes, authenticates, rate-limits, and dispatches one
// incoming JSON-RPC request, writing a response (unless it was a
// notification, i.e. had no id).
func (c *clientSession) HandleRequest(ctx context.Context, token string, raw []byte) {
	var req rpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.writeResponse(rpc.Request{}, rpc.NewError(rpc.CodeInvalidParams, "malformed JSON-RPC envelope"))
		return
	}

	class := c.auth.Classify(token)
	if class == rpc.ClassNone {
		c.writeResponse(req, rpc.NewError(rpc.CodeUnauthorized, "invalid or missing token"))
		return
	}
	if !c.limiter.Allow(token, time.Now()) {
		c.writeResponse(req, rpc.NewError(rpc.CodeRateLimited, "rate limit exceeded"))
		return
	}

	if req.Method == "subscribe" && c.pushCapable {
		c.handleSubscribe(ctx, req, class)
		return
	}

	resp := c.dispatcher.Dispatch(ctx, req, class)
	if len(req.ID) == 0 {
		return
	}
	c.writeJSON(resp)
}

func (c *clientSession) handleSubscribe(ctx context.Context, req rpc.Request, class rpc.TokenClass) {
	if class != rpc.ClassRead && class != rpc.ClassAdmin {
		c.writeResponse(req, rpc.NewError(rpc.CodeUnauthorized, "subscribe requires read or admin class"))
		return
	}
	var params struct {
		SinceEventID int64 `json:"sinceEventId"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.writeResponse(req, rpc.NewError(rpc.CodeInvalidParams, "invalid subscribe params"))
			return
		}
	}

	sub, backlog, rerr := c.dispatcher.Subscribe(ctx, c.id, params.SinceEventID)
	if rerr != nil {
		c.writeResponse(req, rerr)
		return
	}
	c.sub = sub

	lastEventID := params.SinceEventID
	for _, ev := range backlog {
		if ev.ID > lastEventID {
			lastEventID = ev.ID
		}
	}

	c.writeJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(req.ID),
		"result": map[string]any{
			"lastEventId": lastEventID,
			"backlog":     backlog,
		},
	})

	c.writeJSON(rpc.NewNotification("hello", map[string]any{
		"instanceId":      c.dispatcher.InstanceID,
		"runId":           c.dispatcher.RunID,
		"version":         c.dispatcher.Version,
		"protocolVersion": c.dispatcher.ProtocolVersion,
		"lastEventId":     lastEventID,
	}))

	go c.pumpSubscription(ctx)
}

// pumpSubscription forwards bus batches to the client as "events"
// notifications until the subscription is closed or ctx is cancelled.
func (c *clientSession) pumpSubscription(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.sub.Close()
			return
		case reason, ok := <-c.sub.Closed:
			if ok {
				c.logger.Warn("subscription closed", "reason", reason)
			}
			return
		case batch, ok := <-c.sub.Events:
			if !ok {
				return
			}
			c.writeJSON(rpc.NewNotification("events", map[string]any{
				"events":      batch.Events,
				"nextEventId": batch.NextEventID,
			}))
		}
	}
}

func (c *clientSession) Close() {
	if c.sub != nil {
		c.sub.Close()
	}
}

func (c *clientSession) writeResponse(req rpc.Request, err *rpc.Error) {
	if len(req.ID) == 0 && req.Method != "" {
		return
	}
	c.writeJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(req.ID),
		"error":   err.Object(),
	})
}

func (c *clientSession) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal outgoing message failed", "err", err)
		return
	}
	if err := c.sender.Send(data); err != nil {
		c.logger.Debug("send failed, client likely disconnected", "err", err)
	}
}
