package connmgr

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(DefaultConfig(), slog.Default())
}

func TestAcceptSupersedesPriorSession(t *testing.T) {
	m := newTestManager()
	identityID := uuid.New()
	id := identity.Identity{ID: identityID}

	ft1 := &fakeTransport{}
	first := m.Accept(context.Background(), id, ft1)

	ft2 := &fakeTransport{}
	second := m.Accept(context.Background(), id, ft2)

	require.NotEqual(t, first.ID, second.ID)

	sess, ok := m.LookupIdentity(identityID)
	require.True(t, ok)
	assert.Equal(t, second.ID, sess.ID)
	assert.True(t, ft1.closed)
	assert.Equal(t, ReasonSessionSuperseded, ft1.reason)
}

func TestAtMostOneActiveSessionPerIdentity(t *testing.T) {
	m := newTestManager()
	identityID := uuid.New()
	id := identity.Identity{ID: identityID}

	for i := 0; i < 5; i++ {
		m.Accept(context.Background(), id, &fakeTransport{})
	}

	count := 0
	for _, s := range m.Sessions() {
		if s.Identity.ID == identityID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSendToUnhealthySessionClosesIt(t *testing.T) {
	m := newTestManager()
	id := identity.Identity{ID: uuid.New()}
	ft := &fakeTransport{}
	sess := m.Accept(context.Background(), id, ft)
	sess.setState(StateUnhealthy)

	result := m.Send(sess.ID, &event.Envelope{Event: &event.Event{Priority: event.PriorityNormal}})

	assert.Equal(t, SendDropped, result)
	assert.True(t, ft.closed)
}

func TestBackpressureTerminalClosesAfterSpan(t *testing.T) {
	cfg := Config{
		PingPeriod:       5 * time.Millisecond,
		HeartbeatFactor:  1000, // keep the heartbeat timeout well out of the way
		OutboundDepth:    1,
		DrainDeadline:    50 * time.Millisecond,
		BackpressureSpan: 10 * time.Millisecond,
	}
	m := NewManager(cfg, slog.Default())
	id := identity.Identity{ID: uuid.New()}
	ft := &fakeTransport{}
	sess := m.Accept(context.Background(), id, ft)

	// Saturate the one-deep outbound queue and keep it full.
	for i := 0; i < 3; i++ {
		m.Send(sess.ID, &event.Envelope{Event: &event.Event{Priority: event.PriorityNormal}})
	}

	require.Eventually(t, func() bool { return ft.closed }, time.Second, time.Millisecond)
	assert.Equal(t, ReasonBackpressureTerminal, ft.reason)
}

func TestIsConnectedReflectsRegistry(t *testing.T) {
	m := newTestManager()
	id := identity.Identity{ID: uuid.New()}

	assert.False(t, m.IsConnected(id.ID))
	sess := m.Accept(context.Background(), id, &fakeTransport{})
	assert.True(t, m.IsConnected(id.ID))

	m.Close(sess.ID, ReasonNormal)
	assert.False(t, m.IsConnected(id.ID))
}
