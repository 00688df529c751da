package connmgr

import (
	"log/slog"
	"time"

	"github.com/hybriddns/eventfabric/internal/wire"
)

// writeLoop is the single write task per Session (spec §5): it drains the
// outbound queue in order and writes each envelope to the transport. Because
// exactly one goroutine owns this loop per Session, per-(Session,type)
// ordering is preserved end to end (spec §5 "Ordering guarantees"). Control
// frames (acks, throttle notices, replay status) are checked first on every
// iteration so they never queue behind a burst of ordinary events. Once the
// Session's context is cancelled, writeLoop flushes whatever is still
// queued to the transport (spec §4.1 close(): "drains queue up to a
// deadline") before signalling exit via writeLoopExited, which Session.Close
// waits on prior to actually closing the transport.
func (m *Manager) writeLoop(sess *Session) {
	defer close(sess.writeLoopExited)

	write := func(frame wire.Frame) bool {
		if err := sess.Transport.WriteFrame(frame); err != nil {
			m.logger.Warn("SESSION_WRITE_FAILED",
				slog.String("session_id", sess.ID.String()),
				slog.Any("err", err))
			m.Close(sess.ID, ReasonGoingAway)
			return false
		}
		return true
	}

	for {
		select {
		case frame, ok := <-sess.Control():
			if !ok {
				return
			}
			if !write(frame) {
				return
			}
			continue
		default:
		}

		select {
		case <-sess.Context().Done():
			m.flushPending(sess)
			return
		case <-m.stopCh:
			m.flushPending(sess)
			return
		case frame, ok := <-sess.Control():
			if !ok {
				return
			}
			if !write(frame) {
				return
			}
		case env, ok := <-sess.Outbound():
			if !ok {
				return
			}
			if !write(wire.MarshalEnvelope(env)) {
				return
			}
		}
	}
}

// flushPending writes every frame currently buffered in sess's control and
// outbound channels, bounded by the Session's drain deadline, instead of
// discarding them when the write loop is winding down. Close is already in
// progress by the time this runs, so a write failure here just stops the
// flush rather than recursing back into Manager.Close.
func (m *Manager) flushPending(sess *Session) {
	deadline := time.NewTimer(sess.drainDeadline)
	defer deadline.Stop()
	write := func(frame wire.Frame) bool {
		if err := sess.Transport.WriteFrame(frame); err != nil {
			m.logger.Warn("SESSION_FLUSH_WRITE_FAILED",
				slog.String("session_id", sess.ID.String()),
				slog.Any("err", err))
			return false
		}
		return true
	}
	for {
		select {
		case frame, ok := <-sess.Control():
			if !ok {
				return
			}
			if !write(frame) {
				return
			}
		case env, ok := <-sess.Outbound():
			if !ok {
				return
			}
			if !write(wire.MarshalEnvelope(env)) {
				return
			}
		case <-deadline.C:
			return
		default:
			return
		}
	}
}
