package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
	"github.com/hybriddns/eventfabric/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames []wire.Frame
}

func (f *fakeTransport) WriteFrame(fr wire.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeTransport) Close(connmgr.CloseCode, connmgr.Reason) error { return nil }

func (f *fakeTransport) Frames() []wire.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeTransport) last() (wire.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return wire.Frame{}, false
	}
	return f.frames[len(f.frames)-1], true
}

func newTestRouter(t *testing.T) (*Router, *connmgr.Manager) {
	t.Helper()
	logger := slog.Default()
	manager := connmgr.NewManager(connmgr.DefaultConfig(), logger)
	pipeline := filterpipe.NewPipeline(manager, filterpipe.DefaultConfig(), logger)
	b := broadcaster.New(broadcaster.DefaultConfig(), pipeline, nil, manager, logger)
	t.Cleanup(b.Shutdown)
	return New(manager, pipeline, b, logger), manager
}

func acceptSession(manager *connmgr.Manager, id identity.Identity) (*connmgr.Session, *fakeTransport) {
	ft := &fakeTransport{}
	sess := manager.Accept(context.Background(), id, ft)
	return sess, ft
}

func frameOf(t wire.MessageType, data any) wire.Frame {
	return wire.Frame{Type: t, Data: data}
}

func reencode[T any](t *testing.T, data any) T {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHandlePingRepliesPong(t *testing.T) {
	router, manager := newTestRouter(t)
	sess, ft := acceptSession(manager, identity.Identity{ID: uuid.New()})
	defer manager.Close(sess.ID, connmgr.ReasonGoingAway)

	router.Handle(context.Background(), sess, frameOf(wire.MsgPing, nil))

	require.Eventually(t, func() bool {
		f, ok := ft.last()
		return ok && f.Type == wire.MsgPong
	}, time.Second, time.Millisecond)
}

func TestHandleSubscribeFiltersUnpermittedTypes(t *testing.T) {
	router, manager := newTestRouter(t)
	id := identity.Identity{
		ID:           uuid.New(),
		AllowedTypes: map[event.Type]struct{}{event.TypeZoneCreated: {}},
	}
	sess, ft := acceptSession(manager, id)
	defer manager.Close(sess.ID, connmgr.ReasonGoingAway)

	router.Handle(context.Background(), sess, frameOf(wire.MsgSubscribeEvents, wire.SubscribeRequest{
		Types: []string{"zone_created", "security_alert"},
	}))

	require.Eventually(t, func() bool {
		f, ok := ft.last()
		return ok && f.Type == wire.MsgSubscriptionUpdated
	}, time.Second, time.Millisecond)

	f, _ := ft.last()
	upd := reencode[wire.SubscriptionUpdated](t, f.Data)
	assert.Equal(t, []string{"zone_created"}, upd.Subscriptions)
}

func TestHandleEmitRequiresAdmin(t *testing.T) {
	router, manager := newTestRouter(t)
	sess, ft := acceptSession(manager, identity.Identity{ID: uuid.New(), Role: identity.RoleUser})
	defer manager.Close(sess.ID, connmgr.ReasonGoingAway)

	router.Handle(context.Background(), sess, frameOf(wire.MsgEmitEvent, wire.EmitEventRequest{
		Type: "zone_created",
	}))

	require.Eventually(t, func() bool {
		f, ok := ft.last()
		return ok && f.Type == wire.MsgError
	}, time.Second, time.Millisecond)
	f, _ := ft.last()
	errPayload := reencode[wire.ErrorPayload](t, f.Data)
	assert.Equal(t, "forbidden", errPayload.Code)
}

func TestHandleEmitAcceptsAdminEmission(t *testing.T) {
	router, manager := newTestRouter(t)
	sess, ft := acceptSession(manager, identity.Identity{ID: uuid.New(), Role: identity.RoleAdmin})
	defer manager.Close(sess.ID, connmgr.ReasonGoingAway)

	router.Handle(context.Background(), sess, frameOf(wire.MsgEmitEvent, wire.EmitEventRequest{
		Type: "zone_created",
		Data: map[string]any{"zone": "example.com"},
	}))

	require.Eventually(t, func() bool {
		f, ok := ft.last()
		return ok && f.Type == wire.MsgEventAccepted
	}, time.Second, time.Millisecond)
}

func TestHandleEmitRejectsUnknownType(t *testing.T) {
	router, manager := newTestRouter(t)
	sess, ft := acceptSession(manager, identity.Identity{ID: uuid.New(), Role: identity.RoleAdmin})
	defer manager.Close(sess.ID, connmgr.ReasonGoingAway)

	router.Handle(context.Background(), sess, frameOf(wire.MsgEmitEvent, wire.EmitEventRequest{Type: "not_real"}))

	require.Eventually(t, func() bool {
		f, ok := ft.last()
		return ok && f.Type == wire.MsgError
	}, time.Second, time.Millisecond)
	f, _ := ft.last()
	errPayload := reencode[wire.ErrorPayload](t, f.Data)
	assert.Equal(t, "invalid_event_type", errPayload.Code)
}

func TestHandleGetConnectionStatsRequiresAdmin(t *testing.T) {
	router, manager := newTestRouter(t)
	sess, ft := acceptSession(manager, identity.Identity{ID: uuid.New(), Role: identity.RoleUser})
	defer manager.Close(sess.ID, connmgr.ReasonGoingAway)

	router.Handle(context.Background(), sess, frameOf(wire.MsgGetConnectionStats, nil))

	require.Eventually(t, func() bool {
		f, ok := ft.last()
		return ok && f.Type == wire.MsgError
	}, time.Second, time.Millisecond)
}

func TestHandleStartStopReplayRoundTrip(t *testing.T) {
	router, manager := newTestRouter(t)
	sess, ft := acceptSession(manager, identity.Identity{ID: uuid.New(), Role: identity.RoleAdmin})
	defer manager.Close(sess.ID, connmgr.ReasonGoingAway)

	now := time.Now()
	router.Handle(context.Background(), sess, frameOf(wire.MsgStartReplay, wire.StartReplayRequest{
		Start: now.Add(-time.Hour).UnixMilli(),
		End:   now.Add(time.Hour).UnixMilli(),
		Speed: 1,
	}))

	require.Eventually(t, func() bool {
		f, ok := ft.last()
		return ok && f.Type == wire.MsgReplayStarted
	}, time.Second, time.Millisecond)

	f, _ := ft.last()
	started := reencode[wire.ReplayStarted](t, f.Data)
	require.NotEmpty(t, started.ReplayID)

	router.Handle(context.Background(), sess, frameOf(wire.MsgStopReplay, wire.StopReplayRequest{ReplayID: started.ReplayID}))

	require.Eventually(t, func() bool {
		f, ok := ft.last()
		return ok && f.Type == wire.MsgReplayStopped
	}, time.Second, time.Millisecond)
}

func TestHandleUnknownMessageTypeRepliesError(t *testing.T) {
	router, manager := newTestRouter(t)
	sess, ft := acceptSession(manager, identity.Identity{ID: uuid.New()})
	defer manager.Close(sess.ID, connmgr.ReasonGoingAway)

	router.Handle(context.Background(), sess, frameOf(wire.MessageType("not_a_real_type"), nil))

	require.Eventually(t, func() bool {
		f, ok := ft.last()
		return ok && f.Type == wire.MsgError
	}, time.Second, time.Millisecond)
}
