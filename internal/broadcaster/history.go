package broadcaster

import (
	"sync"

	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// DefaultHistoryCapacity is the HistoryBuffer ring size (spec §4.3).
const DefaultHistoryCapacity = 10_000

// HistoryBuffer is the fixed-capacity ring of the most recently ingested
// Events, evicting the oldest entry on overflow (spec §4.3 "Appends to the
// HistoryBuffer, evicting oldest on overflow"). Guarded by a single
// RWMutex rather than genuinely lock-free atomics: the broadcaster ingest
// path is the sole writer and replay reads are infrequent relative to
// ingest, so a short write-lock per Append is not a meaningful bottleneck.
type HistoryBuffer struct {
	mu       sync.RWMutex
	items    []*event.Event
	capacity int
	start    int // index of the oldest item in items
}

func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryBuffer{capacity: capacity}
}

// Append adds ev, evicting the oldest entry once at capacity.
func (h *HistoryBuffer) Append(ev *event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) < h.capacity {
		h.items = append(h.items, ev)
		return
	}
	h.items[h.start] = ev
	h.start = (h.start + 1) % h.capacity
}

// Range returns, in enqueue order, every buffered Event with timestamp in
// [startMillis, endMillis] whose Type passes the optional filter (nil or
// empty filter means "every type").
func (h *HistoryBuffer) Range(startMillis, endMillis int64, filter []event.Type) []*event.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	allowed := make(map[event.Type]struct{}, len(filter))
	for _, t := range filter {
		allowed[t] = struct{}{}
	}

	out := make([]*event.Event, 0, len(h.items))
	n := len(h.items)
	for i := 0; i < n; i++ {
		ev := h.items[(h.start+i)%h.capacity]
		if ev == nil {
			continue
		}
		if ev.Timestamp < startMillis || ev.Timestamp > endMillis {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[ev.Type]; !ok {
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

// Recent returns the last n buffered Events, most recent last.
func (h *HistoryBuffer) Recent(n int) []*event.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := len(h.items)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]*event.Event, 0, n)
	for i := total - n; i < total; i++ {
		out = append(out, h.items[(h.start+i)%h.capacity])
	}
	return out
}
