package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hybriddns/eventfabric/config"
	"github.com/hybriddns/eventfabric/internal/auth"
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
	"github.com/hybriddns/eventfabric/internal/metrics"
	"github.com/hybriddns/eventfabric/internal/producer"
	transportgrpc "github.com/hybriddns/eventfabric/internal/transport/grpc"
	"github.com/hybriddns/eventfabric/internal/transport/lp"
	"github.com/hybriddns/eventfabric/internal/transport/ws"
	"go.uber.org/fx"
)

// httpHandlers collects the named http.Handlers each transport/metrics
// module exports via fx.ResultTags, so httpMux can mount them without
// those packages knowing about each other.
type httpHandlers struct {
	fx.In

	WS      http.Handler `name:"ws_handler"`
	LP      http.Handler `name:"lp_handler"`
	Metrics http.Handler `name:"metrics_handler"`
}

func httpMux(p httpHandlers) *chi.Mux {
	r := chi.NewRouter()
	r.Handle("/ws", p.WS)
	r.Mount("/lp", p.LP)
	r.Handle("/metrics", p.Metrics)
	return r
}

// NewApp wires every package's fx.Module into one application graph,
// mirroring the teacher's cmd/fx.go composition-root shape while
// replacing its DNS-unrelated postgres/service/grpchandler stack with
// this fabric's connection manager, filter pipeline, broadcaster, auth,
// producer, and transport modules.
func NewApp() *fx.App {
	return fx.New(
		fx.Provide(ProvideLogger),
		config.Module,
		connmgr.Module,
		filterpipe.Module,
		broadcaster.Module,
		auth.Module,
		producer.Module,
		transportgrpc.Module,
		ws.Module,
		lp.Module,
		metrics.Module,
		fx.Provide(httpMux),
		fx.Invoke(func(lc fx.Lifecycle, c *config.Config, mux *chi.Mux, logger *slog.Logger) {
			server := &http.Server{Addr: c.HTTP.Addr, Handler: mux}
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					lis, err := net.Listen("tcp", c.HTTP.Addr)
					if err != nil {
						return err
					}
					go func() {
						if err := server.Serve(lis); err != nil && err != http.ErrServerClosed {
							logger.Error("HTTP_SERVE_STOPPED", slog.Any("err", err))
						}
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return server.Shutdown(ctx)
				},
			})
		}),
	)
}
