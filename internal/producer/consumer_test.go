package producer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmitter struct {
	calls []struct {
		typ      event.Type
		payload  map[string]any
		source   string
		priority event.Priority
		tags     []string
	}
	err error
	id  event.ID
}

func (f *fakeEmitter) Emit(t event.Type, payload map[string]any, source string, priority event.Priority, tags []string) (event.ID, error) {
	f.calls = append(f.calls, struct {
		typ      event.Type
		payload  map[string]any
		source   string
		priority event.Priority
		tags     []string
	}{t, payload, source, priority, tags})
	if f.err != nil {
		return event.ID{}, f.err
	}
	return f.id, nil
}

func newTestConsumer(emitter Emitter) *Consumer {
	return NewConsumer(emitter, slog.Default())
}

func TestHandleDecodesAndEmits(t *testing.T) {
	emitter := &fakeEmitter{id: event.NextID()}
	c := newTestConsumer(emitter)

	payload, err := json.Marshal(wireEvent{
		Type:     "zone_created",
		Payload:  map[string]any{"zone": "example.com"},
		Source:   "dns-config-api",
		Priority: "high",
		Tags:     []string{"dns"},
	})
	require.NoError(t, err)

	msg := message.NewMessage(uuid.NewString(), payload)
	err = c.Handle(msg)

	require.NoError(t, err)
	require.Len(t, emitter.calls, 1)
	assert.Equal(t, event.Type("zone_created"), emitter.calls[0].typ)
	assert.Equal(t, "dns-config-api", emitter.calls[0].source)
	assert.Equal(t, []string{"dns"}, emitter.calls[0].tags)
}

func TestHandleAcksOnDecodeFailure(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestConsumer(emitter)

	msg := message.NewMessage(uuid.NewString(), []byte("not json"))
	err := c.Handle(msg)

	require.NoError(t, err)
	assert.Empty(t, emitter.calls)
}

func TestHandleAcksOnEmitRejection(t *testing.T) {
	emitter := &fakeEmitter{err: errors.New("unknown type")}
	c := newTestConsumer(emitter)

	payload, err := json.Marshal(wireEvent{Type: "not_real"})
	require.NoError(t, err)

	msg := message.NewMessage(uuid.NewString(), payload)
	err = c.Handle(msg)

	require.NoError(t, err)
	require.Len(t, emitter.calls, 1)
}

func TestHandleRecoversFromPanic(t *testing.T) {
	c := newTestConsumer(&panickingEmitter{})

	payload, err := json.Marshal(wireEvent{Type: "zone_created"})
	require.NoError(t, err)

	msg := message.NewMessage(uuid.NewString(), payload)
	err = c.Handle(msg)

	require.NoError(t, err)
}

type panickingEmitter struct{}

func (panickingEmitter) Emit(event.Type, map[string]any, string, event.Priority, []string) (event.ID, error) {
	panic("boom")
}
