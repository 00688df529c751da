package metrics

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
	"github.com/hybriddns/eventfabric/internal/wire"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type discardTransport struct{}

func (discardTransport) WriteFrame(wire.Frame) error                  { return nil }
func (discardTransport) Close(connmgr.CloseCode, connmgr.Reason) error { return nil }

func TestCollectorSamplesLiveState(t *testing.T) {
	logger := slog.Default()
	manager := connmgr.NewManager(connmgr.DefaultConfig(), logger)
	pipeline := filterpipe.NewPipeline(manager, filterpipe.DefaultConfig(), logger)
	b := broadcaster.New(broadcaster.DefaultConfig(), pipeline, nil, manager, logger)
	defer b.Shutdown()

	sess := manager.Accept(context.Background(), identity.Identity{ID: uuid.New()}, discardTransport{})
	defer manager.Close(sess.ID, connmgr.ReasonGoingAway)

	_, err := b.Emit(event.TypeZoneCreated, map[string]any{"zone": "example.com"}, "test", event.PriorityNormal, nil)
	require.NoError(t, err)

	c := NewCollector(manager, b, pipeline)
	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(SessionsTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(BroadcasterUp))
}
