package auth

import (
	"log/slog"
	"time"

	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/wire"
)

// ExpiryMonitorInterval is how often live Sessions are swept for expired
// claims (spec §6.4: "Expiry during an active Session triggers a
// session_expired control frame followed by a 4002 close").
const ExpiryMonitorInterval = 15 * time.Second

// ExpiryMonitor periodically sweeps every live Session for an Identity
// whose token has expired and tears it down with the typed close code.
// Grounded on the teacher's heartbeat sweep shape (connmgr.heartbeatLoop),
// generalized from a per-Session timer to one sweep across the whole
// registry since expiry isn't a per-Session ping/pong exchange.
type ExpiryMonitor struct {
	manager  *connmgr.Manager
	interval time.Duration
	logger   *slog.Logger
}

func NewExpiryMonitor(manager *connmgr.Manager, logger *slog.Logger) *ExpiryMonitor {
	return &ExpiryMonitor{manager: manager, interval: ExpiryMonitorInterval, logger: logger}
}

// Run blocks, sweeping until stop is closed.
func (m *ExpiryMonitor) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *ExpiryMonitor) sweep() {
	now := time.Now()
	for _, sess := range m.manager.Sessions() {
		expiresAt := sess.Identity.ExpiresAt
		if expiresAt.IsZero() || now.Before(expiresAt) {
			continue
		}
		m.logger.Info("SESSION_EXPIRED", slog.String("session_id", sess.ID.String()), slog.String("identity_id", sess.Identity.ID.String()))
		m.manager.SendControl(sess.ID, wire.NewFrame(wire.MsgSessionExpired, wire.SessionExpired{Reason: "token_expired"}))
		m.manager.Close(sess.ID, connmgr.ReasonAuthExpired)
	}
}
