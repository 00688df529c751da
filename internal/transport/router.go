// Package transport holds the client<->server message handling shared by
// every wire binding (internal/transport/{ws,grpc,lp}). Each transport
// package is a thin adapter: it owns the bytes/framing specific to its
// protocol and calls into Router for everything else, so the three
// transports can never drift on what "subscribe_events" or "start_replay"
// actually does (spec §6.1: "identical message schema across transports").
package transport

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
	"github.com/hybriddns/eventfabric/internal/wire"
)

// Router handles every inbound Frame for an already-Accepted Session,
// writing replies through the Session's control channel. It is shared by
// the WebSocket, gRPC, and long-poll handlers so message semantics live in
// exactly one place.
type Router struct {
	Manager     *connmgr.Manager
	Pipeline    *filterpipe.Pipeline
	Broadcaster *broadcaster.Broadcaster
	Logger      *slog.Logger
}

func New(manager *connmgr.Manager, pipeline *filterpipe.Pipeline, b *broadcaster.Broadcaster, logger *slog.Logger) *Router {
	return &Router{Manager: manager, Pipeline: pipeline, Broadcaster: b, Logger: logger}
}

// Handle dispatches a single inbound Frame for sess (spec §6.1 client->
// server message types). The caller's read loop keeps calling Handle for
// as long as the transport has data; Handle never blocks on delivery.
func (r *Router) Handle(ctx context.Context, sess *connmgr.Session, frame wire.Frame) {
	switch frame.Type {
	case wire.MsgPing:
		r.Manager.HandlePong(sess) // a client ping also counts as liveness
		r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgPong, nil))
	case wire.MsgSubscribeEvents:
		r.handleSubscribe(sess, frame)
	case wire.MsgUnsubscribeEvents:
		r.handleUnsubscribe(sess, frame)
	case wire.MsgEmitEvent:
		r.handleEmit(sess, frame)
	case wire.MsgGetRecentEvents:
		r.handleGetRecentEvents(sess, frame)
	case wire.MsgStartReplay:
		r.handleStartReplay(ctx, sess, frame)
	case wire.MsgStopReplay:
		r.handleStopReplay(sess, frame)
	case wire.MsgGetReplayStatus:
		r.handleGetReplayStatus(sess, frame)
	case wire.MsgGetConnectionStats:
		r.handleGetConnectionStats(sess)
	default:
		r.sendError(sess, "unknown_message_type", "unrecognized message type: "+string(frame.Type))
	}
}

// HandlePong records an inbound pong frame, called by a transport's read
// loop when it decodes a `pong` message (the client answering our ping).
func (r *Router) HandlePong(sess *connmgr.Session) {
	r.Manager.HandlePong(sess)
}

func decodeData[T any](frame wire.Frame) (T, bool) {
	var out T
	raw, err := json.Marshal(frame.Data)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

func (r *Router) handleSubscribe(sess *connmgr.Session, frame wire.Frame) {
	req, ok := decodeData[wire.SubscribeRequest](frame)
	if !ok {
		r.sendError(sess, "bad_request", "malformed subscribe_events payload")
		return
	}
	requested := make([]event.Type, 0, len(req.Types))
	for _, t := range req.Types {
		requested = append(requested, event.Type(t))
	}
	current := r.Pipeline.Subscribe(sess, requested)
	r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgSubscriptionUpdated, wire.SubscriptionUpdated{
		Subscriptions: typeStrings(current),
	}))
}

func (r *Router) handleUnsubscribe(sess *connmgr.Session, frame wire.Frame) {
	req, ok := decodeData[wire.SubscribeRequest](frame)
	if !ok {
		r.sendError(sess, "bad_request", "malformed unsubscribe_events payload")
		return
	}
	requested := make([]event.Type, 0, len(req.Types))
	for _, t := range req.Types {
		requested = append(requested, event.Type(t))
	}
	current := r.Pipeline.Unsubscribe(sess, requested)
	r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgSubscriptionUpdated, wire.SubscriptionUpdated{
		Subscriptions: typeStrings(current),
	}))
}

// handleEmit services an admin-only emit_event request (spec §6.1: "any
// authenticated producer with the admin role may also emit directly over
// the same channel it listens on").
func (r *Router) handleEmit(sess *connmgr.Session, frame wire.Frame) {
	if sess.Identity.Role != identity.RoleAdmin {
		r.sendError(sess, "forbidden", "emit_event requires the admin role")
		return
	}
	req, ok := decodeData[wire.EmitEventRequest](frame)
	if !ok {
		r.sendError(sess, "bad_request", "malformed emit_event payload")
		return
	}
	id, err := r.Broadcaster.Emit(event.Type(req.Type), req.Data, req.Source, event.ParsePriority(req.Priority), req.Tags)
	if err != nil {
		r.sendError(sess, "invalid_event_type", err.Error())
		return
	}
	r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgEventAccepted, map[string]any{"event_id": id.String()}))
}

func (r *Router) handleGetRecentEvents(sess *connmgr.Session, frame wire.Frame) {
	req, _ := decodeData[wire.GetRecentEventsRequest](frame)
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	events := r.Broadcaster.History().Recent(limit)
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		if !sess.Identity.IsAllowed(ev.Type) {
			continue
		}
		out = append(out, map[string]any{
			"id":        ev.ID.String(),
			"type":      string(ev.Type),
			"data":      ev.Payload,
			"timestamp": ev.Timestamp,
			"priority":  ev.Priority.String(),
		})
	}
	r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgRecentEvents, out))
}

func (r *Router) handleStartReplay(ctx context.Context, sess *connmgr.Session, frame wire.Frame) {
	req, ok := decodeData[wire.StartReplayRequest](frame)
	if !ok {
		r.sendError(sess, "bad_request", "malformed start_replay payload")
		return
	}
	replayID, err := r.Broadcaster.Replay.Start(ctx, sess.ID, req)
	if err != nil {
		r.sendError(sess, "invalid_replay_range", err.Error())
		return
	}
	r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgReplayStarted, wire.ReplayStarted{ReplayID: replayID.String()}))
}

func (r *Router) handleStopReplay(sess *connmgr.Session, frame wire.Frame) {
	req, ok := decodeData[wire.StopReplayRequest](frame)
	if !ok {
		r.sendError(sess, "bad_request", "malformed stop_replay payload")
		return
	}
	replayID, err := uuid.Parse(req.ReplayID)
	if err != nil {
		r.sendError(sess, "bad_request", "invalid replay_id")
		return
	}
	if err := r.Broadcaster.Replay.Stop(replayID); err != nil {
		r.sendError(sess, "unknown_replay_id", err.Error())
		return
	}
	r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgReplayStopped, wire.ReplayStopped{ReplayID: req.ReplayID}))
}

func (r *Router) handleGetReplayStatus(sess *connmgr.Session, frame wire.Frame) {
	req, ok := decodeData[wire.GetReplayStatusRequest](frame)
	if !ok {
		r.sendError(sess, "bad_request", "malformed get_replay_status payload")
		return
	}
	replayID, err := uuid.Parse(req.ReplayID)
	if err != nil {
		r.sendError(sess, "bad_request", "invalid replay_id")
		return
	}
	status, err := r.Broadcaster.Replay.Status(replayID)
	if err != nil {
		r.sendError(sess, "unknown_replay_id", err.Error())
		return
	}
	r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgReplayStatus, status))
}

func (r *Router) handleGetConnectionStats(sess *connmgr.Session) {
	if sess.Identity.Role != identity.RoleAdmin {
		r.sendError(sess, "forbidden", "get_connection_stats requires the admin role")
		return
	}
	sessions := r.Manager.Sessions()
	var dropped uint64
	for _, s := range sessions {
		dropped += s.DroppedCount()
	}
	stats := wire.ConnectionStats{
		TotalSessions:     len(sessions),
		TotalDropped:      dropped,
		RateLimitDropped:  r.Pipeline.RateLimitDropped(),
		QueueDepths:       r.Broadcaster.QueueDepths(),
		ReplayJobsRunning: r.Broadcaster.Replay.ActiveJobs(),
		BroadcasterUp:     true,
	}
	r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgConnectionStats, stats))
}

func (r *Router) sendError(sess *connmgr.Session, code, message string) {
	r.Manager.SendControl(sess.ID, wire.NewFrame(wire.MsgError, wire.ErrorPayload{Code: code, Message: message}))
}

func typeStrings(types []event.Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
