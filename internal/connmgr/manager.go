// Package connmgr implements the Connection Manager (spec §4.1): session
// lifecycle, authentication hookup, heartbeat, and outbound delivery for
// the single bidirectional channel each authenticated Identity owns.
//
// Grounded on the teacher's internal/domain/registry package (the
// sync.Map actor registry in Hub, the mailbox-per-identity Cell, and the
// pooled, atomic-counters connect type), generalized from "one mailbox per
// user" into "one Session with an explicit state machine, heartbeat task,
// and write task per spec §4.1/§5".
package connmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/hybriddns/eventfabric/internal/wire"
)

// Config bundles the heartbeat and queue-policy tunables from spec §4.1.
type Config struct {
	PingPeriod       time.Duration // P, default 30s
	HeartbeatFactor  int           // T = Factor * P, default 2
	OutboundDepth    int           // default 1024
	DrainDeadline    time.Duration // close() drain deadline, default 5s
	BackpressureSpan time.Duration // max time a queue may stay full, default 30s
}

func DefaultConfig() Config {
	return Config{
		PingPeriod:       30 * time.Second,
		HeartbeatFactor:  2,
		OutboundDepth:    DefaultOutboundDepth,
		DrainDeadline:    5 * time.Second,
		BackpressureSpan: 30 * time.Second,
	}
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.HeartbeatFactor) * c.PingPeriod
}

// Manager is the Connection Manager: it owns every live Session exclusively
// (spec §3 Ownership) and is the only component allowed to mutate a
// Session's outbound queue.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	byIdent  map[uuid.UUID]*Session // Identity.ID -> Session (invariant: at most one)
	byConn   map[uuid.UUID]*Session // Session.ID -> Session, for O(1) close-by-conn-id

	stopCh chan struct{}
	stopOnce sync.Once
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		byIdent: make(map[uuid.UUID]*Session),
		byConn:  make(map[uuid.UUID]*Session),
		stopCh:  make(chan struct{}),
	}
	return m
}

// Accept takes the already-verified identity (token validation happens
// in internal/auth before this call), evicts any superseded Session for
// the same Identity, registers the new Session, and starts its heartbeat
// and write tasks (spec §4.1 accept()).
func (m *Manager) Accept(ctx context.Context, id identity.Identity, transport Transport) *Session {
	sess := NewSession(ctx, id, transport, m.cfg.OutboundDepth, m.cfg.DrainDeadline)

	m.mu.Lock()
	if prior, ok := m.byIdent[id.ID]; ok {
		delete(m.byConn, prior.ID)
		m.mu.Unlock()
		prior.Close(ReasonSessionSuperseded)
		m.logger.Info("SESSION_SUPERSEDED", slog.String("identity_id", id.ID.String()), slog.String("prior_session", prior.ID.String()))
		m.mu.Lock()
	}
	m.byIdent[id.ID] = sess
	m.byConn[sess.ID] = sess
	m.mu.Unlock()

	go m.heartbeatLoop(sess)
	go m.writeLoop(sess)

	m.logger.Info("CONNECTION_ESTABLISHED", slog.String("identity_id", id.ID.String()), slog.String("session_id", sess.ID.String()))
	return sess
}

// Lookup returns the live Session for a Session id, if any.
func (m *Manager) Lookup(sessionID uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byConn[sessionID]
	return s, ok
}

// LookupIdentity returns the live Session for an Identity id, if any.
func (m *Manager) LookupIdentity(identityID uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byIdent[identityID]
	return s, ok
}

// IsConnected reports whether identityID currently owns a live Session.
func (m *Manager) IsConnected(identityID uuid.UUID) bool {
	_, ok := m.LookupIdentity(identityID)
	return ok
}

// Sessions returns a read-only snapshot of every live Session, used by
// expiry monitoring, the metrics collector, connection stats, and
// BroadcastControl/Shutdown; event routing goes through the filter
// pipeline's subscription index instead.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.byConn))
	for _, s := range m.byConn {
		out = append(out, s)
	}
	return out
}

// Send non-blockingly enqueues env onto sessionID's outbound queue
// (spec §4.1 send()). A Session deemed unhealthy must be torn down before
// any new dispatch (spec §3 invariant); Send enforces that here rather
// than relying on every caller to check first.
func (m *Manager) Send(sessionID uuid.UUID, env *event.Envelope) SendResult {
	sess, ok := m.Lookup(sessionID)
	if !ok {
		return SendDropped
	}
	if sess.IsUnhealthy() {
		m.Close(sessionID, ReasonHeartbeatTimeout)
		return SendDropped
	}
	env.SessionSeq = sess.NextSessionSeq()
	return sess.Enqueue(env)
}

// SendControl pushes a control frame (ack, throttle notice, replay status)
// to sessionID, bypassing the ordinary event queue. Returns false if the
// session is gone or its control buffer is saturated.
func (m *Manager) SendControl(sessionID uuid.UUID, frame wire.Frame) bool {
	sess, ok := m.Lookup(sessionID)
	if !ok {
		return false
	}
	return sess.EnqueueControl(frame)
}

// Close removes sessionID from the registry and tears it down.
func (m *Manager) Close(sessionID uuid.UUID, reason Reason) {
	m.mu.Lock()
	sess, ok := m.byConn[sessionID]
	if ok {
		delete(m.byConn, sessionID)
		if m.byIdent[sess.Identity.ID] == sess {
			delete(m.byIdent, sess.Identity.ID)
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.Close(reason)
}

// BroadcastControl sends a control frame to every live session (used by
// the broadcaster for subscription acks, replay status, connection stats).
func (m *Manager) BroadcastControl(frame wire.Frame) error {
	var result *multierror.Error
	for _, sess := range m.Sessions() {
		if !sess.EnqueueControl(frame) {
			result = multierror.Append(result, fmt.Errorf("connmgr: control buffer full for session %s", sess.ID))
		}
	}
	return result.ErrorOrNil()
}

// Shutdown cancels all sessions, draining each with the configured
// deadline (spec §5: "signals draining of each Session with a deadline").
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	var wg sync.WaitGroup
	for _, sess := range m.Sessions() {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.Close(s.ID, ReasonGoingAway)
		}(sess)
	}
	wg.Wait()
}
