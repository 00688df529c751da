package connmgr

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/hybriddns/eventfabric/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	frames []wire.Frame
	closed bool
	code   CloseCode
	reason Reason
}

func (f *fakeTransport) WriteFrame(fr wire.Frame) error {
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeTransport) Close(code CloseCode, reason Reason) error {
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}

func newTestSession(t *testing.T, depth int) (*Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	id := identity.Identity{ID: uuid.New()}
	s := NewSession(context.Background(), id, ft, depth, time.Second)
	return s, ft
}

func TestSubscribeIdempotent(t *testing.T) {
	s, _ := newTestSession(t, 4)

	first := s.Subscribe(event.TypeHealthUpdate)
	second := s.Subscribe(event.TypeHealthUpdate)

	assert.ElementsMatch(t, first, second)
	assert.True(t, s.IsSubscribed(event.TypeHealthUpdate))
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	s, _ := newTestSession(t, 4)

	s.Subscribe(event.TypeZoneUpdated)
	require.True(t, s.IsSubscribed(event.TypeZoneUpdated))

	s.Unsubscribe(event.TypeZoneUpdated)
	assert.False(t, s.IsSubscribed(event.TypeZoneUpdated))
}

func TestEnqueueDropsNonCriticalWhenFull(t *testing.T) {
	s, _ := newTestSession(t, 1)

	ev1 := &event.Envelope{Event: &event.Event{Priority: event.PriorityNormal}}
	ev2 := &event.Envelope{Event: &event.Event{Priority: event.PriorityNormal}}

	require.Equal(t, SendOK, s.Enqueue(ev1))
	require.Equal(t, SendDropped, s.Enqueue(ev2))
	assert.Equal(t, uint64(1), s.DroppedCount())
}

func TestEnqueueCriticalEvictsOldestNonCritical(t *testing.T) {
	s, _ := newTestSession(t, 1)

	normal := &event.Envelope{Event: &event.Event{Priority: event.PriorityNormal}}
	critical := &event.Envelope{Event: &event.Event{Priority: event.PriorityCritical}}

	require.Equal(t, SendOK, s.Enqueue(normal))
	require.Equal(t, SendOK, s.Enqueue(critical))

	delivered := <-s.Outbound()
	assert.Equal(t, event.PriorityCritical, delivered.Event.Priority)
}

func TestEnqueueTracksQueueSaturation(t *testing.T) {
	s, _ := newTestSession(t, 1)

	assert.Equal(t, time.Duration(0), s.QueueSaturatedFor(time.Now()))

	ev1 := &event.Envelope{Event: &event.Event{Priority: event.PriorityNormal}}
	ev2 := &event.Envelope{Event: &event.Event{Priority: event.PriorityNormal}}
	require.Equal(t, SendOK, s.Enqueue(ev1))
	require.Equal(t, SendDropped, s.Enqueue(ev2))

	later := time.Now().Add(time.Minute)
	assert.Greater(t, s.QueueSaturatedFor(later), time.Duration(0))

	<-s.Outbound()
	ev3 := &event.Envelope{Event: &event.Event{Priority: event.PriorityNormal}}
	require.Equal(t, SendOK, s.Enqueue(ev3))
	assert.Equal(t, time.Duration(0), s.QueueSaturatedFor(time.Now()), "queue has room again, saturation span resets")
}

func TestHeartbeatExactlyAtTimeoutSucceeds(t *testing.T) {
	s, _ := newTestSession(t, 4)
	timeout := 10 * time.Millisecond

	lastPong := time.Unix(0, s.lastPongNano.Load())
	missed := s.CheckHeartbeat(timeout, lastPong.Add(timeout))
	require.False(t, missed)
	assert.False(t, s.IsUnhealthy())
}

func TestHeartbeatPastTimeoutFails(t *testing.T) {
	s, _ := newTestSession(t, 4)
	timeout := 10 * time.Millisecond

	missed := s.CheckHeartbeat(timeout, time.Now().Add(timeout+time.Millisecond))
	require.True(t, missed)
	assert.True(t, s.IsUnhealthy())
}

func TestPongResetsDeadline(t *testing.T) {
	s, _ := newTestSession(t, 4)
	timeout := 10 * time.Millisecond

	s.MarkPong()
	missed := s.CheckHeartbeat(timeout, time.Now().Add(timeout-time.Millisecond))
	assert.False(t, missed, "a pong in between should push the deadline out again")
}
