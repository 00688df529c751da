// Package metrics exposes a live connection_stats snapshot (spec §6.5) as
// Prometheus gauges, replacing the teacher's dead HubStats/ShardStats
// response model (internal/domain/model/hub_stats.go) with values scraped
// off the connection manager and broadcaster rather than computed once
// per request.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventfabric_sessions_total",
		Help: "Current number of connected sessions across all transports.",
	})

	SessionsDroppedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventfabric_sessions_dropped_total",
		Help: "Sum of per-session dropped-frame counts (backpressure drops; rate-limit drops are in eventfabric_rate_limit_dropped_total).",
	})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eventfabric_queue_depth",
		Help: "Current depth of each broadcaster priority lane.",
	}, []string{"lane"})

	ReplayJobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventfabric_replay_jobs_active",
		Help: "Number of in-flight replay jobs.",
	})

	BroadcasterUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventfabric_broadcaster_up",
		Help: "1 if the broadcaster's dispatcher pool is accepting events, 0 otherwise.",
	})

	RequeuedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventfabric_dispatcher_requeued_total",
		Help: "Cumulative count of events requeued after a dispatcher worker panic.",
	})

	PanicsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventfabric_dispatcher_panics_total",
		Help: "Cumulative count of recovered dispatcher worker panics.",
	})

	RateLimitDroppedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventfabric_rate_limit_dropped_total",
		Help: "Cumulative count of events rejected by the filter pipeline's rate limiter.",
	})
)

func init() {
	prometheus.MustRegister(
		SessionsTotal,
		SessionsDroppedTotal,
		QueueDepth,
		ReplayJobsActive,
		BroadcasterUp,
		RequeuedTotal,
		PanicsTotal,
		RateLimitDroppedTotal,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
