package filterpipe

import (
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"go.uber.org/fx"
)

// Module wires the Subscription & Filter Pipeline into the fx application
// graph, following the teacher's one-fx.Module-per-package convention.
// Pipeline also satisfies broadcaster.Router; a second provider exports it
// under that interface so the broadcaster module can depend on it without
// importing this package.
var Module = fx.Module("filterpipe",
	fx.Provide(NewPipeline),
	fx.Provide(
		fx.Annotate(
			func(p *Pipeline) broadcaster.Router { return p },
			fx.As(new(broadcaster.Router)),
		),
	),
)
