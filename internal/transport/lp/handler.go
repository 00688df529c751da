// Package lp adapts the shared Connection Manager / filter pipeline /
// broadcaster onto a long-poll transport (spec §6.2), grounded on the
// teacher's internal/handler/lp/delivery.go 30-second hold-and-drain Poll.
//
// Unlike the teacher's per-request temporary subscription, our Identity
// model requires one persistent Session per Identity across many short
// HTTP round-trips (spec §3 invariant: "exactly one Session per Identity").
// bridge is the stable mailbox a Session keeps registered in the Connection
// Manager between polls; each Poll call is just a new reader attaching to
// that same mailbox for up to the hold duration, mirroring the teacher's
// drain-burst loop once data arrives.
package lp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hybriddns/eventfabric/internal/auth"
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
	"github.com/hybriddns/eventfabric/internal/transport"
	"github.com/hybriddns/eventfabric/internal/wire"
)

// PollHoldDuration is the standard long-poll timeout to prevent hanging
// connections (teacher: 30 * time.Second in lp/delivery.go).
const PollHoldDuration = 30 * time.Second

// DrainBurst caps how many additional buffered frames a single Poll
// response coalesces once the first one arrives (teacher: 15).
const DrainBurst = 15

type bridge struct {
	frames chan wire.Frame
	closed atomic.Bool
}

func newBridge() *bridge {
	return &bridge{frames: make(chan wire.Frame, 256)}
}

func (b *bridge) WriteFrame(f wire.Frame) error {
	if b.closed.Load() {
		return errors.New("lp: session closed")
	}
	select {
	case b.frames <- f:
		return nil
	default:
	}
	// Buffer full: drop the oldest buffered frame to make room rather than
	// blocking the Connection Manager's single write loop.
	select {
	case <-b.frames:
	default:
	}
	select {
	case b.frames <- f:
	default:
	}
	return nil
}

func (b *bridge) Close(connmgr.CloseCode, connmgr.Reason) error {
	if b.closed.CompareAndSwap(false, true) {
		close(b.frames)
	}
	return nil
}

// Handler serves both the polling endpoint and the command endpoint that
// carries subscribe_events/unsubscribe_events/emit_event/etc. for clients
// that cannot hold a persistent socket open.
type Handler struct {
	logger   *slog.Logger
	verifier *auth.Verifier
	manager  *connmgr.Manager
	router   *transport.Router
}

func NewHandler(logger *slog.Logger, verifier *auth.Verifier, manager *connmgr.Manager, pipeline *filterpipe.Pipeline, b *broadcaster.Broadcaster) *Handler {
	return &Handler{
		logger:   logger,
		verifier: verifier,
		manager:  manager,
		router:   transport.New(manager, pipeline, b, logger),
	}
}

// attach resolves the caller's bearer token and returns its persistent
// Session, creating one (with a fresh bridge) on first contact.
func (h *Handler) attach(w http.ResponseWriter, r *http.Request) (*connmgr.Session, bool) {
	token := bearerToken(r)
	claims, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	identity := claims.ToIdentity()
	if sess, ok := h.manager.LookupIdentity(identity.ID); ok {
		h.manager.HandlePong(sess) // a poll round-trip counts as liveness
		return sess, true
	}
	sess := h.manager.Accept(r.Context(), identity, newBridge())
	h.logger.Info("LP_SESSION_OPENED", slog.String("session_id", sess.ID.String()), slog.String("identity_id", identity.ID.String()))
	return sess, true
}

// Command handles one-shot control frames (subscribe_events,
// unsubscribe_events, emit_event, get_recent_events, start_replay,
// stop_replay, get_replay_status, get_connection_stats). The reply, if
// any, is delivered through the next Poll rather than this response, since
// every reply path is a control frame on the shared Session mailbox.
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.attach(w, r)
	if !ok {
		return
	}
	var frame wire.Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	h.router.Handle(r.Context(), sess, frame)
	w.WriteHeader(http.StatusAccepted)
}

// Poll holds the connection until an event arrives or the hold duration
// elapses (teacher's Poll, generalized from a temporary per-request
// subscription to a persistent per-Identity Session).
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.attach(w, r)
	if !ok {
		return
	}
	br, ok := sess.Transport.(*bridge)
	if !ok {
		// Session was accepted over a different transport (e.g. the same
		// Identity is also holding a WebSocket); long-poll cannot attach.
		http.Error(w, "session bound to a different transport", http.StatusConflict)
		return
	}

	var frames []wire.Frame
	select {
	case <-r.Context().Done():
		return
	case <-time.After(PollHoldDuration):
		w.WriteHeader(http.StatusNoContent)
		return
	case f, chOk := <-br.frames:
		if !chOk {
			w.WriteHeader(http.StatusGone)
			return
		}
		frames = append(frames, f)
	drain:
		for i := 0; i < DrainBurst; i++ {
			select {
			case next, chOk := <-br.frames:
				if !chOk {
					break drain
				}
				frames = append(frames, next)
			default:
				break drain
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(frames)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
