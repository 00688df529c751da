package metrics

import (
	"time"

	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
)

// CollectInterval mirrors the teacher's periodic collector cadence
// (internal/manager/metrics_collector.go used 15s; connection_stats is
// cheap enough here to sample twice as often).
const CollectInterval = 7 * time.Second

// Collector periodically samples the connection manager and broadcaster
// into the package's Prometheus gauges, generalized from the teacher's
// MetricsCollector (ticker + stopCh + collect()) onto this domain's
// sources of truth.
type Collector struct {
	manager     *connmgr.Manager
	broadcaster *broadcaster.Broadcaster
	pipeline    *filterpipe.Pipeline
	stopCh      chan struct{}
}

func NewCollector(manager *connmgr.Manager, b *broadcaster.Broadcaster, p *filterpipe.Pipeline) *Collector {
	return &Collector{manager: manager, broadcaster: b, pipeline: p, stopCh: make(chan struct{})}
}

// Start begins collecting on a ticker, sampling once immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(CollectInterval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	sessions := c.manager.Sessions()
	SessionsTotal.Set(float64(len(sessions)))

	var dropped uint64
	for _, s := range sessions {
		dropped += s.DroppedCount()
	}
	SessionsDroppedTotal.Set(float64(dropped))

	for lane, depth := range c.broadcaster.QueueDepths() {
		QueueDepth.WithLabelValues(lane).Set(float64(depth))
	}

	ReplayJobsActive.Set(float64(c.broadcaster.Replay.ActiveJobs()))
	RequeuedTotal.Set(float64(c.broadcaster.RequeuedCount()))
	PanicsTotal.Set(float64(c.broadcaster.PanicCount()))
	RateLimitDroppedTotal.Set(float64(c.pipeline.RateLimitDropped()))
	BroadcasterUp.Set(1)
}
