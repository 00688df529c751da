package grpc

import (
	"context"
	"log/slog"
	"net"

	"go.uber.org/fx"
	grpclib "google.golang.org/grpc"
)

// Config bundles the gRPC listener address.
type Config struct {
	Addr string
}

func DefaultConfig() Config { return Config{Addr: ":9090"} }

// Module wires the gRPC transport into the fx application graph: it builds
// a *grpc.Server forced onto the JSON codec (see codec.go), registers the
// raw Delivery.Stream service, and starts/stops the listener with the fx
// lifecycle, mirroring the teacher's grpcsrv.Server lifecycle hook without
// depending on its proprietary webitel-go-kit transport wrapper (dropped,
// see DESIGN.md).
// Config is provided by config.Module, adapted from *config.Config's GRPC
// section; DefaultConfig exists for tests and standalone use.
var Module = fx.Module("transport-grpc",
	fx.Provide(NewService),
	fx.Provide(func() *grpclib.Server {
		return grpclib.NewServer(grpclib.ForceServerCodec(jsonCodec{}))
	}),
	fx.Invoke(func(lc fx.Lifecycle, cfg Config, server *grpclib.Server, svc *Service, logger *slog.Logger) {
		Register(server, svc)
		lis, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			logger.Error("GRPC_LISTEN_FAILED", slog.String("addr", cfg.Addr), slog.Any("err", err))
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := server.Serve(lis); err != nil {
						logger.Warn("GRPC_SERVE_STOPPED", slog.Any("err", err))
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				server.GracefulStop()
				return nil
			},
		})
	}),
)
