package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hybriddns/eventfabric/internal/domain/event"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.PingPeriod)
	assert.Equal(t, 2, cfg.Heartbeat.HeartbeatFactor)
	assert.Equal(t, 64, cfg.Queue.StarvationFactor)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadConfigReadsFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventfabric.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heartbeat:\n  ping_period: 10s\n"), 0o644))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.PingPeriod)
	// untouched defaults still apply alongside the overridden key
	assert.Equal(t, 2, cfg.Heartbeat.HeartbeatFactor)
}

func TestLoadConfigRejectsInvalidHeartbeat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eventfabric.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heartbeat:\n  ping_period: 0s\n"), 0o644))

	_, err := LoadConfig(path, nil)
	assert.Error(t, err)
}

func TestRedactionTableExpandsRules(t *testing.T) {
	cfg := &Config{
		Redaction: []RedactionRule{
			{EventType: "security_alert", Field: "source_ip", Mode: "hash"},
			{EventType: "security_alert", Field: "raw_payload", Mode: "remove"},
		},
	}

	table := cfg.RedactionTable()
	require.Contains(t, table, event.TypeSecurityAlert)
	assert.Equal(t, filterpipe.ModeHash, table[event.TypeSecurityAlert]["source_ip"])
	assert.Equal(t, filterpipe.ModeRemove, table[event.TypeSecurityAlert]["raw_payload"])
}

func TestConnmgrConfigAdaptsHeartbeatAndQueue(t *testing.T) {
	cfg := &Config{
		Heartbeat: Heartbeat{PingPeriod: 15 * time.Second, HeartbeatFactor: 3, BackpressureSpan: 45 * time.Second},
		Queue:     Queue{OutboundDepth: 512},
	}
	adapted := cfg.ConnmgrConfig()
	assert.Equal(t, 15*time.Second, adapted.PingPeriod)
	assert.Equal(t, 3, adapted.HeartbeatFactor)
	assert.Equal(t, 512, adapted.OutboundDepth)
	assert.Equal(t, 45*time.Second, adapted.BackpressureSpan)
}
