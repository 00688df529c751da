package broadcaster

import (
	"testing"
	"time"

	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueueStrictOrderWithoutStarvation(t *testing.T) {
	q := NewPriorityQueue(1000)
	low := &event.Event{Priority: event.PriorityLow, ID: event.NextID()}
	critical := &event.Event{Priority: event.PriorityCritical, ID: event.NextID()}
	normal := &event.Event{Priority: event.PriorityNormal, ID: event.NextID()}

	q.Push(low)
	q.Push(critical)
	q.Push(normal)

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, event.PriorityCritical, first.Priority)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, event.PriorityNormal, second.Priority)

	third, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, event.PriorityLow, third.Priority)
}

func TestPriorityQueueFIFOWithinLane(t *testing.T) {
	q := NewPriorityQueue(1000)
	first := &event.Event{Priority: event.PriorityNormal, Tags: []string{"first"}}
	second := &event.Event{Priority: event.PriorityNormal, Tags: []string{"second"}}

	q.Push(first)
	q.Push(second)

	got1, _ := q.Pop()
	got2, _ := q.Pop()
	assert.Equal(t, []string{"first"}, got1.Tags)
	assert.Equal(t, []string{"second"}, got2.Tags)
}

func TestPriorityQueueStarvationProtection(t *testing.T) {
	q := NewPriorityQueue(2)
	low := &event.Event{Priority: event.PriorityLow, Tags: []string{"low"}}
	q.Push(low)
	for i := 0; i < 5; i++ {
		q.Push(&event.Event{Priority: event.PriorityCritical})
	}

	var served []string
	for i := 0; i < 3; i++ {
		ev, ok := q.Pop()
		require.True(t, ok)
		if len(ev.Tags) > 0 {
			served = append(served, ev.Tags[0])
		}
	}

	assert.Contains(t, served, "low", "after the starvation factor, a lower-lane event must be serviced")
}

func TestPriorityQueuePopBlocksUntilPush(t *testing.T) {
	q := NewPriorityQueue(DefaultStarvationFactor)
	resultCh := make(chan *event.Event, 1)
	go func() {
		ev, ok := q.Pop()
		if ok {
			resultCh <- ev
		}
	}()

	select {
	case <-resultCh:
		t.Fatal("Pop returned before any Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(&event.Event{Priority: event.PriorityNormal})

	select {
	case <-resultCh:
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after Push")
	}
}

func TestPriorityQueueClosedPopReturnsFalse(t *testing.T) {
	q := NewPriorityQueue(DefaultStarvationFactor)
	q.Close()

	_, ok := q.Pop()
	assert.False(t, ok)
}
