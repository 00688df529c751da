package config

import (
	"context"
	"log/slog"

	"github.com/hybriddns/eventfabric/internal/auth"
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
	"github.com/hybriddns/eventfabric/internal/producer"
	transportgrpc "github.com/hybriddns/eventfabric/internal/transport/grpc"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
)

// FilePath and Flags are filled in by cmd before building the fx.App, so
// LoadConfig can be called as a zero-argument fx constructor.
var (
	FilePath string
	Flags    *pflag.FlagSet
)

// Module wires *Config into the fx graph from the package-level FilePath,
// and adapts each section into the leaf packages' own Config types so
// connmgr, filterpipe, broadcaster, auth, and the producer/transport
// modules all receive values derived from one configuration source
// instead of each hardcoding DefaultConfig().
var Module = fx.Module("config",
	fx.Provide(func() (*Config, error) {
		return LoadConfig(FilePath, Flags)
	}),
	fx.Provide(func(c *Config) connmgr.Config { return c.ConnmgrConfig() }),
	fx.Provide(func(c *Config) filterpipe.Config { return c.FilterPipelineConfig() }),
	fx.Provide(func(c *Config) broadcaster.Config { return c.BroadcasterConfig() }),
	fx.Provide(func(c *Config) auth.VerifierConfig { return c.VerifierConfig() }),
	fx.Provide(func(c *Config) producer.Config { return producer.Config{Addr: c.AMQP.Addr} }),
	fx.Provide(func(c *Config) transportgrpc.Config { return transportgrpc.Config{Addr: c.GRPC.Addr} }),
	fx.Invoke(func(lc fx.Lifecycle, c *Config, pipeline *filterpipe.Pipeline, logger *slog.Logger) {
		watcher, err := Watch(FilePath, func() {
			fresh, err := LoadConfig(FilePath, nil)
			if err != nil {
				logger.Error("CONFIG_RELOAD_FAILED", slog.Any("err", err))
				return
			}
			pipeline.SetRedactionTable(fresh.RedactionTable())
			logger.Info("CONFIG_REDACTION_TABLE_RELOADED")
		})
		if err != nil {
			logger.Warn("CONFIG_WATCH_DISABLED", slog.Any("err", err))
			return
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				if watcher != nil {
					return watcher.Close()
				}
				return nil
			},
		})
	}),
)
