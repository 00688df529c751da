// Package ws adapts the shared Connection Manager / filter pipeline /
// broadcaster onto a WebSocket transport (spec §6.2), grounded on the
// teacher's internal/handler/ws/delivery.go upgrade-then-pump shape.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hybriddns/eventfabric/internal/auth"
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
	"github.com/hybriddns/eventfabric/internal/transport"
	"github.com/hybriddns/eventfabric/internal/wire"
)

// Handler upgrades HTTP requests to WebSocket connections and bridges each
// one to a Session (spec §6.2: "the unified channel, not a per-thread
// connection").
type Handler struct {
	logger   *slog.Logger
	verifier *auth.Verifier
	manager  *connmgr.Manager
	router   *transport.Router
	upgrader websocket.Upgrader
}

func NewHandler(logger *slog.Logger, verifier *auth.Verifier, manager *connmgr.Manager, pipeline *filterpipe.Pipeline, b *broadcaster.Broadcaster) *Handler {
	return &Handler{
		logger:   logger,
		verifier: verifier,
		manager:  manager,
		router:   transport.New(manager, pipeline, b, logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

// transportAdapter satisfies connmgr.Transport over a single *websocket.Conn.
// Only the Connection Manager's write loop calls WriteFrame, so no mutex is
// needed there; Close is protected against the concurrent read-loop path.
type transportAdapter struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (t *transportAdapter) WriteFrame(f wire.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *transportAdapter) Close(code connmgr.CloseCode, reason connmgr.Reason) error {
	var err error
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(int(code), string(reason))
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	claims, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", slog.Any("err", err))
		return
	}
	defer conn.Close()

	adapter := &transportAdapter{conn: conn}
	sess := h.manager.Accept(r.Context(), claims.ToIdentity(), adapter)
	h.logger.Info("WS_OPENED", slog.String("session_id", sess.ID.String()), slog.String("identity_id", claims.IdentityID.String()))
	defer h.manager.Close(sess.ID, connmgr.ReasonGoingAway)

	h.readLoop(r.Context(), sess, conn)
}

func (h *Handler) readLoop(ctx context.Context, sess *connmgr.Session, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.router.HandlePong(sess) // malformed frame still counts as activity
			continue
		}
		if frame.Type == wire.MsgPong {
			h.router.HandlePong(sess)
			continue
		}
		h.router.Handle(ctx, sess, frame)
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
