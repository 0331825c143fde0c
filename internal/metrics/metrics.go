// Package metrics exposes prometheus collectors for the prober and the
// failover orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the subsystem's prometheus metrics.
type Collector struct {
	ProbeTotal          *prometheus.CounterVec
	ProbeDuration       *prometheus.HistogramVec
	RegionHealthy       *prometheus.GaugeVec
	FailoverTotal       *prometheus.CounterVec
	FailoverDuration    prometheus.Histogram
	PropagationTimeouts prometheus.Counter
}

// NewCollector creates and registers the collectors. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ProbeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_probe_total",
			Help: "Health probes by region and resulting check status.",
		}, []string{"region", "status"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meridian_probe_duration_seconds",
			Help:    "Duration of a full probe cycle per region.",
			Buckets: prometheus.DefBuckets,
		}, []string{"region"}),
		RegionHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meridian_region_healthy",
			Help: "1 if the region's derived health state is healthy.",
		}, []string{"region"}),
		FailoverTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_failover_total",
			Help: "Failover attempts by reason and outcome.",
		}, []string{"reason", "outcome"}),
		FailoverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meridian_failover_duration_seconds",
			Help:    "End-to-end duration of completed failovers.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		PropagationTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_propagation_timeouts_total",
			Help: "Failovers that completed without confirmed propagation.",
		}),
	}

	reg.MustRegister(
		c.ProbeTotal, c.ProbeDuration, c.RegionHealthy,
		c.FailoverTotal, c.FailoverDuration, c.PropagationTimeouts,
	)
	return c
}
