package connmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/hybriddns/eventfabric/internal/wire"
	"golang.org/x/time/rate"
)

// DefaultOutboundDepth is the bounded FIFO depth for a Session's outbound
// queue (spec §4.1 Outbound queue policy).
const DefaultOutboundDepth = 1024

// Session is the single live channel for one authenticated Identity
// (spec §3 DATA MODEL). Exactly one Session per Identity is registered in
// the ConnectionManager at any instant (spec invariant).
type Session struct {
	ID          uuid.UUID
	Identity    identity.Identity
	ConnectedAt time.Time
	Transport   Transport

	ctx      context.Context
	cancel   context.CancelFunc
	state    atomic.Int32 // State
	seq      atomic.Uint64
	dropped  atomic.Uint64

	drainDeadline   time.Duration
	writeLoopExited chan struct{}

	lastPingNano atomic.Int64
	lastPongNano atomic.Int64
	lastLatency  atomic.Int64 // nanoseconds

	queueFullSinceNano atomic.Int64 // 0 when the outbound queue currently has room

	outbound chan *event.Envelope
	control  chan wire.Frame

	mu   sync.RWMutex
	subs map[event.Type]struct{}

	bucketsMu sync.Mutex
	buckets   map[event.Type]*rate.Limiter

	closeOnce sync.Once
}

// NewSession constructs a freshly Authenticated Session bound to transport.
// drainDeadline bounds how long Close waits for the write loop to flush the
// outbound queue before closing the transport out from under it.
func NewSession(ctx context.Context, id identity.Identity, transport Transport, outboundDepth int, drainDeadline time.Duration) *Session {
	if outboundDepth <= 0 {
		outboundDepth = DefaultOutboundDepth
	}
	if drainDeadline <= 0 {
		drainDeadline = DefaultConfig().DrainDeadline
	}
	cctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:              uuid.New(),
		Identity:        id,
		ConnectedAt:     time.Now(),
		Transport:       transport,
		ctx:             cctx,
		cancel:          cancel,
		drainDeadline:   drainDeadline,
		writeLoopExited: make(chan struct{}),
		outbound:        make(chan *event.Envelope, outboundDepth),
		control:         make(chan wire.Frame, 16),
		subs:            make(map[event.Type]struct{}),
		buckets:         make(map[event.Type]*rate.Limiter),
	}
	s.state.Store(int32(StateAuthenticated))
	now := time.Now().UnixNano()
	s.lastPingNano.Store(now)
	s.lastPongNano.Store(now)
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Activate transitions Authenticated -> Active, triggered by the initial
// subscription request or the first successful ping (spec §4.1).
func (s *Session) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if State(s.state.Load()) == StateAuthenticated {
		s.setState(StateActive)
	}
}

// IsUnhealthy reports the transient Unhealthy substate.
func (s *Session) IsUnhealthy() bool { return State(s.state.Load()) == StateUnhealthy }

func (s *Session) IsActive() bool {
	st := State(s.state.Load())
	return st == StateActive || st == StateUnhealthy
}

func (s *Session) IsClosed() bool { return State(s.state.Load()) == StateClosed }

// Context is cancelled when the Session is closed.
func (s *Session) Context() context.Context { return s.ctx }

// --- Subscriptions ---

// Subscribe idempotently adds types to the subscription set and returns the
// full current set (spec §4.2: "re-subscribing is a no-op").
func (s *Session) Subscribe(types ...event.Type) []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		s.subs[t] = struct{}{}
	}
	return s.snapshotSubsLocked()
}

// Unsubscribe idempotently removes types and returns the full current set.
func (s *Session) Unsubscribe(types ...event.Type) []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		delete(s.subs, t)
	}
	return s.snapshotSubsLocked()
}

// Subscriptions returns a snapshot of the current subscription set.
func (s *Session) Subscriptions() []event.Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotSubsLocked()
}

func (s *Session) snapshotSubsLocked() []event.Type {
	out := make([]event.Type, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	return out
}

// IsSubscribed reports whether t is in the current subscription set.
func (s *Session) IsSubscribed(t event.Type) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subs[t]
	return ok
}

// --- Rate limiting state (design note §9: "keep the state per (Session,
// type) inside the Session" so the filter pipeline stays a pure function). ---

// Limiter lazily creates and returns the token bucket for (s, t).
func (s *Session) Limiter(t event.Type, ratePerMinute int) *rate.Limiter {
	s.bucketsMu.Lock()
	defer s.bucketsMu.Unlock()
	if l, ok := s.buckets[t]; ok {
		return l
	}
	var l *rate.Limiter
	if ratePerMinute <= 0 {
		l = rate.NewLimiter(rate.Inf, 1)
	} else {
		perSecond := float64(ratePerMinute) / 60.0
		burst := ratePerMinute
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	s.buckets[t] = l
	return l
}

// --- Heartbeat bookkeeping ---

func (s *Session) MarkPingSent() { s.lastPingNano.Store(time.Now().UnixNano()) }

func (s *Session) MarkPong() {
	now := time.Now().UnixNano()
	last := s.lastPingNano.Load()
	if last > 0 {
		s.lastLatency.Store(now - last)
	}
	s.lastPongNano.Store(now)
	if State(s.state.Load()) == StateUnhealthy {
		s.setState(StateActive)
	}
}

// Latency returns the most recently observed ping/pong round-trip.
func (s *Session) Latency() time.Duration { return time.Duration(s.lastLatency.Load()) }

// CheckHeartbeat evaluates the timeout deadline T relative to now and
// reports whether the Session has missed its pong deadline: exactly at T
// it is still healthy, any instant past T it is not (spec §4.1/§8:
// "Heartbeat exactly at T succeeds; at T+ε fails"). A miss marks the
// Session unhealthy; the caller tears it down with heartbeat_timeout.
func (s *Session) CheckHeartbeat(timeout time.Duration, now time.Time) bool {
	lastPong := time.Unix(0, s.lastPongNano.Load())
	if now.Sub(lastPong) <= timeout {
		return false
	}
	s.setState(StateUnhealthy)
	return true
}

// --- Outbound queue (backpressure policy, spec §4.1) ---

// SendResult is the outcome of an outbound enqueue attempt.
type SendResult int

const (
	SendOK SendResult = iota
	SendDropped
)

// Enqueue implements the bounded FIFO + CRITICAL eviction policy:
//  1. Non-full queue: always accepted.
//  2. Full queue, CRITICAL event: evict the oldest non-CRITICAL message to
//     make room; if every queued message is itself CRITICAL, still enqueue
//     (critical path is never dropped at the producer boundary, spec §7).
//  3. Full queue, non-CRITICAL event: dropped and counted.
func (s *Session) Enqueue(env *event.Envelope) SendResult {
	select {
	case s.outbound <- env:
		s.queueFullSinceNano.Store(0)
		return SendOK
	default:
	}

	// The queue was observed full: mark the start of this saturation span
	// if one isn't already running. Eviction below may still let this
	// particular message through, but the queue stays at capacity, so the
	// span is not cleared until a later Enqueue finds room again.
	s.queueFullSinceNano.CompareAndSwap(0, time.Now().UnixNano())

	if env.Event.Priority != event.PriorityCritical {
		s.dropped.Add(1)
		return SendDropped
	}

	// Try to evict one oldest non-CRITICAL message to make room for this
	// CRITICAL one.
	select {
	case old := <-s.outbound:
		if old.Event.Priority != event.PriorityCritical {
			select {
			case s.outbound <- env:
				return SendOK
			default:
			}
		}
		// Either the evicted message was itself CRITICAL, or the queue
		// filled again in the race window: best-effort put it back, then
		// force the CRITICAL event in regardless (never dropped).
		select {
		case s.outbound <- old:
		default:
		}
	default:
	}

	select {
	case s.outbound <- env:
		return SendOK
	default:
		// Queue saturated with CRITICAL traffic; nothing more we can do.
		s.dropped.Add(1)
		return SendDropped
	}
}

// NextSessionSeq allocates the next strictly-increasing per-session
// sequence number (spec §3 invariant on EventEnvelope ordering).
func (s *Session) NextSessionSeq() uint64 { return s.seq.Add(1) }

func (s *Session) DroppedCount() uint64 { return s.dropped.Load() }

// QueueSaturatedFor reports how long the outbound queue has been
// continuously observed full, or 0 if it currently has room.
func (s *Session) QueueSaturatedFor(now time.Time) time.Duration {
	since := s.queueFullSinceNano.Load()
	if since == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, since))
}

func (s *Session) Outbound() <-chan *event.Envelope { return s.outbound }

// Control exposes the out-of-band control frame channel (acks, throttle
// notices, replay status) that writeLoop prioritizes over ordinary events.
func (s *Session) Control() <-chan wire.Frame { return s.control }

// EnqueueControl non-blockingly pushes a control frame; control traffic is
// low-volume and a full buffer means the session is already unhealthy, so
// drops here are silent rather than counted against DroppedCount.
func (s *Session) EnqueueControl(frame wire.Frame) bool {
	select {
	case s.control <- frame:
		return true
	default:
		return false
	}
}

// Close idempotently tears the session down: cancels its context (which
// the heartbeat loop selects on and the write loop treats as "start
// draining"), waits up to drainDeadline for the write loop to flush
// whatever was still queued (spec §4.1 close(): "drains queue up to a
// deadline"), then closes the transport with the CloseCode derived from
// reason (spec §6.2).
func (s *Session) Close(reason Reason) {
	s.closeOnce.Do(func() {
		s.setState(StateDraining)
		s.cancel()
		select {
		case <-s.writeLoopExited:
		case <-time.After(s.drainDeadline):
		}
		_ = s.Transport.Close(codeForReason(reason), reason)
		s.setState(StateClosed)
	})
}
