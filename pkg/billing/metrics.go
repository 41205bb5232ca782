package billing

import "time"

// Metrics defines the interface for tracking billing operations.
type Metrics interface {
	// RecordWebhookEvent records a handled webhook event.
	// eventType is the provider event type ("customer.subscription.updated", ...);
	// status is "success", "ignored" or "error".
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a rejected or failed webhook.
	// errorType: "auth_failed", "invalid_payload", "payload_too_large" or "processing_error".
	RecordWebhookError(provider, errorType string)

	// RecordUserSync records a reconciliation. status: "success" or "error"
	RecordUserSync(provider, status string)

	RecordUserSyncDuration(provider string, duration time.Duration)

	// RecordTierChange records when a user's effective tier changes.
	RecordTierChange(provider, fromTier, toTier string)

	// RecordAPICall records an outbound provider API call.
	// endpoint is a route template such as "/subscriptions/{id}".
	RecordAPICall(provider, endpoint, status string)

	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordUserSync(_, _ string)                                   {}
func (n *NoopMetrics) RecordUserSyncDuration(_ string, _ time.Duration)             {}
func (n *NoopMetrics) RecordTierChange(_, _, _ string)                              {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
