package broadcaster

import (
	"errors"
	"log/slog"
	"time"

	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// ErrInvalidEventType is returned by Emit for an unregistered Type
// (spec §4.3 "Producer calls with invalid type -> invalid_event_type
// return, nothing enqueued").
var ErrInvalidEventType = errors.New("broadcaster: invalid event type")

// Config bundles the broadcaster's tunables (spec §4.3).
type Config struct {
	StarvationFactor int
	Workers          int
	HistoryCapacity  int
}

func DefaultConfig() Config {
	return Config{
		StarvationFactor: DefaultStarvationFactor,
		Workers:          0, // 0 -> runtime.NumCPU, min 2
		HistoryCapacity:  DefaultHistoryCapacity,
	}
}

// Broadcaster is the single ingestion point (spec §4.3): it stamps,
// records, and enqueues every Event, and owns the dispatcher pool,
// HistoryBuffer, and replay engine built on top of it.
type Broadcaster struct {
	queue      *PriorityQueue
	history    *HistoryBuffer
	dispatcher *dispatcher
	Replay     *ReplayEngine
	logger     *slog.Logger
}

// New wires a Broadcaster. router is typically *filterpipe.Pipeline.
func New(cfg Config, router Router, historySource HistorySource, manager *connmgr.Manager, logger *slog.Logger) *Broadcaster {
	queue := NewPriorityQueue(cfg.StarvationFactor)
	history := NewHistoryBuffer(cfg.HistoryCapacity)
	d := newDispatcher(queue, router, cfg.Workers, logger)
	replay := NewReplayEngine(manager, history, historySource, logger)

	b := &Broadcaster{queue: queue, history: history, dispatcher: d, Replay: replay, logger: logger}
	d.start()
	return b
}

// Emit stamps and records ev, then enqueues it for dispatch (spec §4.3
// "emit(type, payload, source?, priority?, tags?) -> event_id"). Returns
// the assigned event.ID, or an error for an unregistered type.
func (b *Broadcaster) Emit(t event.Type, payload map[string]any, source string, priority event.Priority, tags []string) (event.ID, error) {
	if !event.IsKnown(t) {
		return event.ID{}, ErrInvalidEventType
	}
	ev := &event.Event{
		ID:        event.NextID(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
		Priority:  priority,
		Tags:      tags,
	}
	b.history.Append(ev)
	b.queue.Push(ev)
	return ev.ID, nil
}

// History exposes the HistoryBuffer for get_recent_events handling.
func (b *Broadcaster) History() *HistoryBuffer { return b.history }

// QueueDepths reports the current per-lane depths for connection_stats.
func (b *Broadcaster) QueueDepths() map[string]int { return b.queue.Depths() }

// RequeuedCount and PanicCount surface dispatcher resilience counters.
func (b *Broadcaster) RequeuedCount() uint64 { return b.dispatcher.Requeued() }
func (b *Broadcaster) PanicCount() uint64    { return b.dispatcher.Panics() }

// Shutdown closes the priority queue so every dispatcher worker exits
// cleanly (spec §5: "Shutdown... cancels all dispatcher workers first").
func (b *Broadcaster) Shutdown() {
	b.queue.Close()
}
