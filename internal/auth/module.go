package auth

import (
	"context"
	"log/slog"

	"github.com/hybriddns/eventfabric/internal/connmgr"
	"go.uber.org/fx"
)

// Module wires token verification and the expiry monitor into the fx
// application graph, following the teacher's one-fx.Module-per-package
// convention.
var Module = fx.Module("auth",
	fx.Provide(func(cfg VerifierConfig) (*Verifier, error) {
		return NewVerifier(cfg, nil)
	}),
	fx.Invoke(func(lc fx.Lifecycle, manager *connmgr.Manager, logger *slog.Logger) {
		monitor := NewExpiryMonitor(manager, logger)
		stop := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go monitor.Run(stop)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				close(stop)
				return nil
			},
		})
	}),
)
