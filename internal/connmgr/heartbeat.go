package connmgr

import (
	"context"
	"log/slog"
	"time"

	"github.com/hybriddns/eventfabric/internal/wire"
)

// heartbeatLoop runs the ping/pong liveness protocol for one Session
// (spec §4.1): send a ping every P, and once the pong timeout T (default
// 2P) elapses without a fresh pong, close with heartbeat_timeout. The same
// tick also polls the outbound queue's saturation span (closing with
// backpressure_terminal past the configured limit, spec §7) and flushes a
// periodic dropped_notice control frame summarising backpressure drops
// (spec §4.3 delivery contract).
func (m *Manager) heartbeatLoop(sess *Session) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer ticker.Stop()

	timeout := m.cfg.timeout()
	noticeBaseDropped := sess.DroppedCount()
	noticeSince := time.Now()

	for {
		select {
		case <-sess.Context().Done():
			return
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			if span := sess.QueueSaturatedFor(now); m.cfg.BackpressureSpan > 0 && span > m.cfg.BackpressureSpan {
				m.logger.Warn("BACKPRESSURE_TERMINAL",
					slog.String("session_id", sess.ID.String()),
					slog.Duration("span", span))
				m.Close(sess.ID, ReasonBackpressureTerminal)
				return
			}

			if sess.CheckHeartbeat(timeout, now) {
				m.logger.Warn("HEARTBEAT_TIMEOUT",
					slog.String("session_id", sess.ID.String()),
					slog.Duration("timeout", timeout))
				m.Close(sess.ID, ReasonHeartbeatTimeout)
				return
			}
			sess.MarkPingSent()
			sess.EnqueueControl(wire.NewFrame(wire.MsgPing, nil))

			if dropped := sess.DroppedCount(); dropped > noticeBaseDropped {
				notice := wire.DroppedNotice{
					Count: int(dropped - noticeBaseDropped),
					Since: noticeSince.UnixMilli(),
				}
				sess.EnqueueControl(wire.NewFrame(wire.MsgDroppedNotice, notice))
				noticeBaseDropped = dropped
				noticeSince = now
			}
		}
	}
}

// HandlePong records an inbound pong frame for sess, called by each
// transport's read loop when it decodes a `pong` message.
func (m *Manager) HandlePong(sess *Session) {
	sess.MarkPong()
}

// HandleAnyInbound marks the session Active on its first successful inbound
// activity, per the Connecting/Authenticated -> Active transition rule
// (spec §4.1: "first ping success" is one of the Active triggers).
func (m *Manager) HandleAnyInbound(ctx context.Context, sess *Session) {
	sess.Activate()
}
