// Copyright 2025 Settlenet
//
// Package metrics exposes the Prometheus collectors used across the
// intent-ingestion, netting, batch, and resilience paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics namespace.
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig returns the default namespace/subsystem.
func DefaultConfig() Config {
	return Config{Namespace: "settlenet", Subsystem: "core"}
}

// Metrics holds all collectors registered by the core.
type Metrics struct {
	Registry *prometheus.Registry

	IntentsAccepted  *prometheus.CounterVec
	IntentsRejected  *prometheus.CounterVec
	SpentCounterOverCap prometheus.Counter

	BatchesFormed    prometheus.Counter
	BatchSize        prometheus.Histogram
	BatchLifecycle   *prometheus.CounterVec
	IntentsSkipped   *prometheus.CounterVec

	SettlementDuration prometheus.Histogram
	SettlementFailures *prometheus.CounterVec
	LastCommittedBatchID prometheus.Gauge

	IndexerCursorLag prometheus.Gauge
	IndexerApplyFail prometheus.Counter

	CircuitState     *prometheus.GaugeVec
	PartitionedGauge prometheus.Gauge
	FakeConfirmations prometheus.Counter
}

// New constructs and registers all collectors against a fresh registry.
func New(cfg Config) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		IntentsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "intents_accepted_total", Help: "Intents accepted by the signature and policy gate.",
		}, []string{"action"}),

		IntentsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "intents_rejected_total", Help: "Intents rejected, labeled by reason code.",
		}, []string{"reason"}),

		SpentCounterOverCap: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "spent_over_cap_total", Help: "Intents rejected for exceeding the session cumulative cap.",
		}),

		BatchesFormed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "batches_formed_total", Help: "Batches assembled by the batch manager.",
		}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "batch_intent_count", Help: "Number of intents per formed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}),

		BatchLifecycle: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "batch_lifecycle_transitions_total", Help: "Batch state machine transitions.",
		}, []string{"to_state"}),

		IntentsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "intents_skipped_total", Help: "Intents skipped during netting, labeled by reason.",
		}, []string{"reason"}),

		SettlementDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "settlement_duration_seconds", Help: "End-to-end duration of a settlement submission.",
			Buckets: prometheus.DefBuckets,
		}),

		SettlementFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "settlement_failures_total", Help: "Settlement submission failures, labeled by reason.",
		}, []string{"reason"}),

		LastCommittedBatchID: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "last_committed_batch_id", Help: "Most recently committed ledger batch sequence number.",
		}),

		IndexerCursorLag: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "indexer_cursor_lag", Help: "Number of settled batches not yet applied to shadow tables.",
		}),

		IndexerApplyFail: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "indexer_apply_failures_total", Help: "Indexer apply failures.",
		}),

		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "circuit_state", Help: "Brick monitor circuit state (0=closed,1=tripped).",
		}, []string{"watchdog"}),

		PartitionedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "partitioned", Help: "1 if the network-partition guard has declared PARTITIONED.",
		}),

		FakeConfirmations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "fake_confirmations_total", Help: "Confirmations rejected by the fake-confirmation detector.",
		}),
	}
}

// Handler returns the HTTP handler serving this registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
