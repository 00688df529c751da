package broadcaster

import (
	"context"
	"log/slog"

	"github.com/hybriddns/eventfabric/internal/connmgr"
	"go.uber.org/fx"
)

// Module wires the Event Broadcaster into the fx application graph,
// following the teacher's one-fx.Module-per-package convention. Router is
// satisfied by *filterpipe.Pipeline, provided by internal/filterpipe's own
// module; fx resolves it by interface.
var Module = fx.Module("broadcaster",
	fx.Provide(func(cfg Config, router Router, manager *connmgr.Manager, logger *slog.Logger) *Broadcaster {
		source := NewCircuitBrokenHistorySource(nil)
		return New(cfg, router, source, manager, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, b *Broadcaster) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				b.Shutdown()
				return nil
			},
		})
	}),
)
