// Package broadcaster implements the Event Broadcaster (spec §4.3): the
// single ingestion point that stamps and enqueues Events, a pool of
// dispatcher workers draining a four-lane priority queue, the in-memory
// HistoryBuffer, and the replay engine.
//
// Grounded on the teacher's internal/domain/registry.Hub (sync.Map actor
// registry, evictor goroutine loop) generalized from "route to one cell"
// into "route to N subscribers via the filter pipeline".
package broadcaster

import (
	"sync"

	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// DefaultStarvationFactor is K from spec §4.3: after this many consecutive
// higher-lane events, one lower-lane event is serviced even if higher
// lanes remain non-empty.
const DefaultStarvationFactor = 64

// lane indexes the four strict-priority FIFOs, ordered highest first;
// event.Priority runs lowest first, so laneFor maps one onto the other.
type lane int

const (
	laneCritical lane = iota
	laneHigh
	laneNormal
	laneLow
	laneCount
)

func laneFor(p event.Priority) lane {
	switch p {
	case event.PriorityCritical:
		return laneCritical
	case event.PriorityHigh:
		return laneHigh
	case event.PriorityLow:
		return laneLow
	default:
		return laneNormal
	}
}

// PriorityQueue is the four-lane strict-priority FIFO with starvation
// protection described in spec §4.3. Pop blocks (via a condition variable)
// until an item is available or the queue is closed.
type PriorityQueue struct {
	mu     sync.Mutex
	notEmpty *sync.Cond
	lanes  [laneCount][]*event.Event
	closed bool

	starvationFactor int
	consecutiveHigh  int
}

func NewPriorityQueue(starvationFactor int) *PriorityQueue {
	if starvationFactor <= 0 {
		starvationFactor = DefaultStarvationFactor
	}
	q := &PriorityQueue{starvationFactor: starvationFactor}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push enqueues ev onto its priority lane and wakes one blocked Pop.
func (q *PriorityQueue) Push(ev *event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	l := laneFor(ev.Priority)
	q.lanes[l] = append(q.lanes[l], ev)
	q.notEmpty.Signal()
}

// Pop blocks until an Event is available or the queue is closed (second
// return false). Lane selection enforces strict priority order except
// when starvationFactor consecutive higher-lane pops have happened in a
// row and a lower lane is non-empty, in which case the next non-empty
// lower lane is serviced once before priority order resumes.
func (q *PriorityQueue) Pop() (*event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.empty() && !q.closed {
		q.notEmpty.Wait()
	}
	if q.empty() {
		return nil, false
	}

	if q.consecutiveHigh >= q.starvationFactor {
		for l := laneLow; l >= laneHigh; l-- {
			if ev, ok := q.popLane(l); ok {
				q.consecutiveHigh = 0
				return ev, true
			}
		}
	}

	for l := lane(0); l < laneCount; l++ {
		if ev, ok := q.popLane(l); ok {
			if l == laneCritical || l == laneHigh {
				q.consecutiveHigh++
			} else {
				q.consecutiveHigh = 0
			}
			return ev, true
		}
	}
	return nil, false
}

func (q *PriorityQueue) popLane(l lane) (*event.Event, bool) {
	if len(q.lanes[l]) == 0 {
		return nil, false
	}
	ev := q.lanes[l][0]
	q.lanes[l] = q.lanes[l][1:]
	return ev, true
}

func (q *PriorityQueue) empty() bool {
	for l := lane(0); l < laneCount; l++ {
		if len(q.lanes[l]) > 0 {
			return false
		}
	}
	return true
}

// Depths returns the current per-lane queue lengths, keyed by priority
// name, for the connection_stats snapshot (spec §6.5).
func (q *PriorityQueue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return map[string]int{
		"critical": len(q.lanes[laneCritical]),
		"high":     len(q.lanes[laneHigh]),
		"normal":   len(q.lanes[laneNormal]),
		"low":      len(q.lanes[laneLow]),
	}
}

// Close wakes every blocked Pop so dispatcher workers can exit.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}
