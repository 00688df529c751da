package filterpipe

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/hybriddns/eventfabric/internal/wire"
)

// DefaultRateCapPerMinute is the non-admin, non-critical default token
// bucket cap (spec §4.2 stage 3: "100/min for non-admin, non-critical event
// types").
const DefaultRateCapPerMinute = 100

// RateLimiter wraps each Session's per-type token bucket (already owned by
// connmgr.Session per its design note) and throttles the rate_limited
// control frame so a saturated subscriber isn't flooded with throttle
// notices of its own (spec §7: surfaced once, not per dropped event).
type RateLimiter struct {
	defaultCap int
	notifyEvery time.Duration

	mu       sync.Mutex
	lastSent map[rlKey]time.Time

	dropped atomic.Uint64 // rate_limit_dropped (spec S4)
}

type rlKey struct {
	session string
	typ     event.Type
}

func NewRateLimiter(defaultCapPerMinute int, notifyEvery time.Duration) *RateLimiter {
	if defaultCapPerMinute <= 0 {
		defaultCapPerMinute = DefaultRateCapPerMinute
	}
	if notifyEvery <= 0 {
		notifyEvery = 10 * time.Second
	}
	return &RateLimiter{defaultCap: defaultCapPerMinute, notifyEvery: notifyEvery, lastSent: make(map[rlKey]time.Time)}
}

// Allow reports whether ev may proceed to sess, per the per-(session,type)
// token bucket. CRITICAL events and RoleAdmin identities are always
// unlimited (spec §4.2 stage 3 edge cases). When the bucket is exhausted, a
// throttled rate_limited control frame is pushed through send at most once
// per notifyEvery.
func (r *RateLimiter) Allow(sess *connmgr.Session, ev *event.Event, send func(wire.Frame)) bool {
	if ev.Priority == event.PriorityCritical || sess.Identity.Role == identity.RoleAdmin {
		return true
	}
	capPerMin := sess.Identity.RateCap(ev.Type, r.defaultCap)
	limiter := sess.Limiter(ev.Type, capPerMin)
	if limiter.Allow() {
		return true
	}
	r.dropped.Add(1)
	r.maybeNotify(sess, ev.Type, send)
	return false
}

// Dropped returns the cumulative count of events rejected by the rate
// limiter across every session (spec S4: counter `rate_limit_dropped`).
func (r *RateLimiter) Dropped() uint64 { return r.dropped.Load() }

func (r *RateLimiter) maybeNotify(sess *connmgr.Session, t event.Type, send func(wire.Frame)) {
	if send == nil {
		return
	}
	key := rlKey{session: sess.ID.String(), typ: t}
	now := time.Now()

	r.mu.Lock()
	last, ok := r.lastSent[key]
	if ok && now.Sub(last) < r.notifyEvery {
		r.mu.Unlock()
		return
	}
	r.lastSent[key] = now
	r.mu.Unlock()

	send(wire.NewFrame(wire.MsgRateLimited, wire.RateLimited{
		Type: string(t),
	}))
}
