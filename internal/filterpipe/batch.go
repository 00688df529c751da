package filterpipe

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// DefaultBatchWindow and DefaultBatchSize are the batching stage defaults
// (spec §4.2 stage 4): a burst of same-type events for one Session within
// W is coalesced into a single array-payload envelope, capped at B events.
const (
	DefaultBatchWindow = 200 * time.Millisecond
	DefaultBatchSize   = 16
)

// BatchSink delivers either a single envelope or, once at least two are
// pending at flush time, a coalesced batch to a Session.
type BatchSink func(sess *connmgr.Session, envs []*event.Envelope)

type batchKey struct {
	session uuid.UUID
	typ     event.Type
}

type batchState struct {
	mu      sync.Mutex
	pending []*event.Envelope
	timer   *time.Timer
}

// Batcher accumulates non-CRITICAL events per (Session, Type) and flushes
// them on a window timer or size cap, whichever comes first. CRITICAL
// events bypass the Batcher entirely (spec Open Question 2 decision,
// recorded in the grounding ledger): callers must not Submit them.
type Batcher struct {
	window time.Duration
	size   int
	sink   BatchSink

	mu     sync.Mutex
	states map[batchKey]*batchState
}

func NewBatcher(window time.Duration, size int, sink BatchSink) *Batcher {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{window: window, size: size, sink: sink, states: make(map[batchKey]*batchState)}
}

// Submit enqueues env for (sess, t), starting a flush timer on the first
// pending event and forcing an immediate flush once size is reached.
func (b *Batcher) Submit(sess *connmgr.Session, t event.Type, env *event.Envelope) {
	key := batchKey{session: sess.ID, typ: t}

	b.mu.Lock()
	st, ok := b.states[key]
	if !ok {
		st = &batchState{}
		b.states[key] = st
	}
	b.mu.Unlock()

	st.mu.Lock()
	st.pending = append(st.pending, env)
	full := len(st.pending) >= b.size
	first := len(st.pending) == 1
	if full {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		pending := st.pending
		st.pending = nil
		st.mu.Unlock()
		b.sink(sess, pending)
		return
	}
	if first {
		st.timer = time.AfterFunc(b.window, func() { b.flush(sess, key) })
	}
	st.mu.Unlock()
}

func (b *Batcher) flush(sess *connmgr.Session, key batchKey) {
	b.mu.Lock()
	st, ok := b.states[key]
	b.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	pending := st.pending
	st.pending = nil
	st.timer = nil
	st.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	b.sink(sess, pending)
}
