package metrics

import (
	"context"
	"net/http"

	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(NewCollector),
	fx.Provide(fx.Annotate(
		func() http.Handler { return Handler() },
		fx.ResultTags(`name:"metrics_handler"`),
	)),
	fx.Invoke(func(lc fx.Lifecycle, c *Collector) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { c.Start(); return nil },
			OnStop:  func(context.Context) error { c.Stop(); return nil },
		})
	}),
)
