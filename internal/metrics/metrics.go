// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "keenoracle"

// Metrics groups the engine collectors.
type Metrics struct {
	RegisteredOracles prometheus.Gauge
	PriceSubmissions  *prometheus.CounterVec
	Rejections        *prometheus.CounterVec

	Aggregations       *prometheus.CounterVec
	AggregatedPrice    *prometheus.GaugeVec
	AggregationSources *prometheus.GaugeVec
	OutliersDetected   *prometheus.CounterVec
	AggregationLatency prometheus.Histogram

	RewardsDistributed prometheus.Counter
	RewardsWithdrawn   prometheus.Counter
	Disputes           prometheus.Counter

	PersistFailures prometheus.Counter
	ReporterFetches *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegisteredOracles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "registered_oracles",
			Help:      "Number of registered oracles",
		}),
		PriceSubmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submissions",
			Name:      "total",
			Help:      "Accepted price submissions by pair",
		}, []string{"pair"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rejections_total",
			Help:      "Rejected operations by operation and reason",
		}, []string{"operation", "reason"}),

		Aggregations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "runs_total",
			Help:      "Aggregation runs by pair and result",
		}, []string{"pair", "result"}),
		AggregatedPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "price",
			Help:      "Latest aggregated price by pair",
		}, []string{"pair"}),
		AggregationSources: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "sources",
			Help:      "Submissions included in the latest aggregation by pair",
		}, []string{"pair"}),
		OutliersDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "outliers_total",
			Help:      "Submissions excluded as outliers by pair",
		}, []string{"pair"}),
		AggregationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "duration_seconds",
			Help:      "Time spent inside the aggregation batch",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),

		RewardsDistributed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "distributed_total",
			Help:      "Reward units credited to oracles",
		}),
		RewardsWithdrawn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "withdrawn_total",
			Help:      "Reward units withdrawn by oracles",
		}),
		Disputes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "disputes",
			Name:      "total",
			Help:      "Disputes recorded",
		}),

		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "persist_failures_total",
			Help:      "State flushes that failed",
		}),
		ReporterFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reporter",
			Name:      "fetches_total",
			Help:      "Reference price fetches by source and result",
		}, []string{"source", "result"}),
	}
}

// NewNop builds collectors bound to a private registry, for tests and one-shot commands.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveAggregation records a finished aggregation run.
func (m *Metrics) ObserveAggregation(pair string, price float64, sources, outliers int, took time.Duration) {
	m.Aggregations.WithLabelValues(pair, "ok").Inc()
	m.AggregatedPrice.WithLabelValues(pair).Set(price)
	m.AggregationSources.WithLabelValues(pair).Set(float64(sources))
	if outliers > 0 {
		m.OutliersDetected.WithLabelValues(pair).Add(float64(outliers))
	}
	m.AggregationLatency.Observe(took.Seconds())
}

// ObserveAggregationFailure records an aggregation that produced no result.
func (m *Metrics) ObserveAggregationFailure(pair, reason string) {
	m.Aggregations.WithLabelValues(pair, reason).Inc()
}

// ObserveRejection records a rejected write.
func (m *Metrics) ObserveRejection(operation, reason string) {
	m.Rejections.WithLabelValues(operation, reason).Inc()
}
