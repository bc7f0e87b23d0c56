// Package metrics provides Prometheus metrics collection for the quota
// and metering core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the service.
type Collector struct {
	// Decision metrics
	DecisionsTotal *prometheus.CounterVec
	FailOpenTotal  *prometheus.CounterVec

	// Transfer metrics
	TransfersTotal   *prometheus.CounterVec
	TransferredUnits prometheus.Counter

	// Metering metrics
	MeterEventsTotal *prometheus.CounterVec
	MeterUnitsTotal  *prometheus.CounterVec
	LedgerErrors     prometheus.Counter
	FlushDuration    prometheus.Histogram

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagekit",
				Name:      "quota_decisions_total",
				Help:      "Total quota decisions by tier, operation and outcome",
			},
			[]string{"tier", "op", "outcome"},
		),
		FailOpenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagekit",
				Name:      "quota_fail_open_total",
				Help:      "Total decisions served fail-open due to a degraded dependency",
			},
			[]string{"reason"},
		),
		TransfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagekit",
				Name:      "quota_transfers_total",
				Help:      "Total anonymous-to-authenticated transfers by outcome",
			},
			[]string{"outcome"},
		),
		TransferredUnits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagekit",
				Name:      "quota_transferred_units_total",
				Help:      "Total usage units merged into authenticated identities",
			},
		),
		MeterEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagekit",
				Name:      "meter_events_total",
				Help:      "Total billable events enqueued by category",
			},
			[]string{"category"},
		),
		MeterUnitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagekit",
				Name:      "meter_units_total",
				Help:      "Total billable units enqueued by category",
			},
			[]string{"category"},
		),
		LedgerErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagekit",
				Name:      "ledger_errors_total",
				Help:      "Total failed ledger publishes (batches dropped)",
			},
		),
		FlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "usagekit",
				Name:      "ledger_flush_duration_seconds",
				Help:      "Ledger batch publish duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagekit",
				Name:      "decision_cache_hits_total",
				Help:      "Total decision cache hits",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagekit",
				Name:      "decision_cache_misses_total",
				Help:      "Total decision cache misses",
			},
		),
	}
}
