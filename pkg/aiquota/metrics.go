package aiquota

import "time"

// Metrics defines the interface for tracking quota operations and performance.
type Metrics interface {
	// RecordConsumption records a consume attempt and whether it was allowed.
	RecordConsumption(tier Tier, kind UsageKind, allowed bool)

	// RecordSnapshot records the duration of a read-only snapshot.
	RecordSnapshot(tier Tier, duration time.Duration)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordConsumption(tier Tier, kind UsageKind, allowed bool)                  {}
func (n *NoopMetrics) RecordSnapshot(tier Tier, duration time.Duration)                           {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
