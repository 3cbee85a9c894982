// Package metrics exposes the pool scheduler's and rate limiter's
// operational gauges over Prometheus's text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PoolGauge reports how many accounts currently have a live upstream
// session — the scheduler's PoolSize().
type PoolGauge func() int

// LimiterGauges reports the rate limiter's worker-pool queue depth and
// cumulative dropped-request count — the limiter's Metrics() map.
type LimiterGauges func() map[string]int64

// Registry wires the pool scheduler and rate limiter's live state into a
// dedicated Prometheus registry, avoiding the default global one so tests
// and multiple gateway instances in one process never collide on
// registration.
type Registry struct {
	reg *prometheus.Registry
}

// New constructs a Registry whose gauges read live from the given callbacks
// on every scrape — no background updater goroutine needed.
func New(pool PoolGauge, limiter LimiterGauges) *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "botmgr",
			Name:      "pool_sessions",
			Help:      "Number of accounts currently holding a live upstream session.",
		},
		func() float64 { return float64(pool()) },
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "botmgr",
			Subsystem: "ratelimit",
			Name:      "queue_depth",
			Help:      "Number of Test/Hit requests currently buffered in the rate limiter's worker pool.",
		},
		func() float64 { return float64(limiter()["queue_depth"]) },
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "botmgr",
			Subsystem: "ratelimit",
			Name:      "dropped_total",
			Help:      "Cumulative count of rate-limit requests dropped because the worker pool's queue was full.",
		},
		func() float64 { return float64(limiter()["dropped_total"]) },
	))

	return &Registry{reg: reg}
}

// Handler returns the standard Prometheus text-exposition HTTP handler for
// this registry, to be mounted at GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
