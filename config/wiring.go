package config

import (
	"github.com/hybriddns/eventfabric/internal/auth"
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
)

// ConnmgrConfig adapts the Heartbeat/Queue sections into connmgr.Config.
func (c *Config) ConnmgrConfig() connmgr.Config {
	return connmgr.Config{
		PingPeriod:       c.Heartbeat.PingPeriod,
		HeartbeatFactor:  c.Heartbeat.HeartbeatFactor,
		OutboundDepth:    c.Queue.OutboundDepth,
		DrainDeadline:    connmgr.DefaultConfig().DrainDeadline,
		BackpressureSpan: c.Heartbeat.BackpressureSpan,
	}
}

// FilterPipelineConfig adapts the FilterPipeline section into
// filterpipe.Config, including the current redaction table.
func (c *Config) FilterPipelineConfig() filterpipe.Config {
	return filterpipe.Config{
		DefaultRateCapPerMinute: c.FilterPipeline.DefaultRateCapPerMinute,
		RateLimitNotifyEvery:    c.FilterPipeline.RateLimitNotifyEvery,
		BatchWindow:             c.FilterPipeline.BatchWindow,
		BatchSize:               c.FilterPipeline.BatchSize,
		RedactionTable:          c.RedactionTable(),
	}
}

// BroadcasterConfig adapts the Queue section into broadcaster.Config.
func (c *Config) BroadcasterConfig() broadcaster.Config {
	return broadcaster.Config{
		StarvationFactor: c.Queue.StarvationFactor,
		Workers:          c.Queue.Workers,
		HistoryCapacity:  c.Queue.HistoryCapacity,
	}
}

// VerifierConfig adapts the Auth section into auth.VerifierConfig.
func (c *Config) VerifierConfig() auth.VerifierConfig {
	cfg := auth.DefaultVerifierConfig(c.Auth.JWTSecret)
	if c.Auth.ClaimsCacheSize > 0 {
		cfg.CacheSize = c.Auth.ClaimsCacheSize
	}
	return cfg
}

// RedactionTable builds the filterpipe.FieldMode table from the flat,
// Viper-friendly []RedactionRule slice — unlike filterpipe's nested map
// type, a flat rule list round-trips cleanly through YAML/env var
// binding, so that's the shape Config exposes at the boundary.
func (c *Config) RedactionTable() map[event.Type]map[string]filterpipe.FieldMode {
	table := make(map[event.Type]map[string]filterpipe.FieldMode)
	for _, rule := range c.Redaction {
		t := event.Type(rule.EventType)
		if table[t] == nil {
			table[t] = make(map[string]filterpipe.FieldMode)
		}
		mode := filterpipe.ModeRemove
		if rule.Mode == "hash" {
			mode = filterpipe.ModeHash
		}
		table[t][rule.Field] = mode
	}
	return table
}
