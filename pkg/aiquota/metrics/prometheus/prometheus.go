package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// Metrics implements aiquota.Metrics using Prometheus.
type Metrics struct {
	consumptionTotal           *prometheus.CounterVec
	snapshotDuration           *prometheus.HistogramVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		consumptionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_quota_consumption_total",
			Help:      "Total number of AI quota consume attempts.",
		}, []string{"tier", "kind", "allowed"}),

		snapshotDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_quota_snapshot_duration_seconds",
			Help:      "Latency of quota snapshot reads.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_quota_storage_operation_duration_seconds",
			Help:      "Latency of quota ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_quota_storage_operation_errors_total",
			Help:      "Total number of quota ledger operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_quota_circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordConsumption(tier aiquota.Tier, kind aiquota.UsageKind, allowed bool) {
	m.consumptionTotal.WithLabelValues(string(tier), string(kind), strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) RecordSnapshot(tier aiquota.Tier, duration time.Duration) {
	m.snapshotDuration.WithLabelValues(string(tier)).Observe(duration.Seconds())
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}
