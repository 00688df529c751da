// Package filterpipe implements the Subscription & Filter Pipeline
// (spec §4.2): the event-type -> subscriber index, and the four
// short-circuiting filter stages (permission, redaction, rate limit,
// batching) applied to every candidate (Session, Event) pair.
//
// Grounded on the teacher's generic Bind[T]/DomainHandler[T] pattern
// (internal/handler/amqp/bind.go) for composable, panic-safe pure stages.
// Permission checks read the Session's Identity directly; no cache is kept.
package filterpipe

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
)

// Index maps an event Type to the set of Sessions currently subscribed to
// it. Mutations replace the whole inner map (copy-on-write, per spec §9
// design note), so a Snapshot taken while routing an Event can never
// observe a partial write from a concurrent subscribe/unsubscribe
// (spec §4.2: "a dispatch snapshot is taken... cannot cause a partial
// write of the same Event to the same Session").
type Index struct {
	mu   sync.RWMutex
	byType map[event.Type]map[uuid.UUID]*connmgr.Session
}

func NewIndex() *Index {
	return &Index{byType: make(map[event.Type]map[uuid.UUID]*connmgr.Session)}
}

// Add registers sess as a subscriber of t.
func (ix *Index) Add(t event.Type, sess *connmgr.Session) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old := ix.byType[t]
	fresh := make(map[uuid.UUID]*connmgr.Session, len(old)+1)
	for k, v := range old {
		fresh[k] = v
	}
	fresh[sess.ID] = sess
	ix.byType[t] = fresh
}

// Remove unregisters sess from t's subscriber set, if present.
func (ix *Index) Remove(t event.Type, sess *connmgr.Session) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old := ix.byType[t]
	if old == nil {
		return
	}
	if _, ok := old[sess.ID]; !ok {
		return
	}
	fresh := make(map[uuid.UUID]*connmgr.Session, len(old))
	for k, v := range old {
		if k != sess.ID {
			fresh[k] = v
		}
	}
	ix.byType[t] = fresh
}

// RemoveSession unregisters sess from every type it was subscribed to
// (spec §3 invariant: "teardown of a Session removes all its Subscriptions").
func (ix *Index) RemoveSession(sess *connmgr.Session, types []event.Type) {
	for _, t := range types {
		ix.Remove(t, sess)
	}
}

// Snapshot returns the subscriber set for t at the moment of the call. The
// returned slice is safe to range over even if subscriptions mutate
// concurrently afterwards.
func (ix *Index) Snapshot(t event.Type) []*connmgr.Session {
	ix.mu.RLock()
	m := ix.byType[t]
	ix.mu.RUnlock()

	out := make([]*connmgr.Session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

// ApplySubscribe mutates both the Session's own subscription set and this
// index, keeping them consistent, and returns the Session's full current
// subscription set for the subscription_updated ack.
func ApplySubscribe(ix *Index, sess *connmgr.Session, requested []event.Type) []event.Type {
	var permitted []event.Type
	for _, t := range requested {
		if !event.IsKnown(t) {
			continue
		}
		if !sess.Identity.IsAllowed(t) {
			continue
		}
		permitted = append(permitted, t)
	}
	current := sess.Subscribe(permitted...)
	for _, t := range permitted {
		ix.Add(t, sess)
	}
	return current
}

// ApplyUnsubscribe mirrors ApplySubscribe for unsubscribe requests.
func ApplyUnsubscribe(ix *Index, sess *connmgr.Session, requested []event.Type) []event.Type {
	current := sess.Unsubscribe(requested...)
	for _, t := range requested {
		ix.Remove(t, sess)
	}
	return current
}
