package billing

import (
	"time"

	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// Config configures a Reconciler.
type Config struct {
	// Store persists customers, subscription rows and user tiers. Required.
	Store Store

	// Prices maps provider price ids to tiers.
	// Subscriptions with unknown prices fall back to their "plan" metadata.
	Prices PriceTable

	// ProviderName labels metrics and logs (default: "stripe").
	ProviderName string

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	Metrics Metrics

	// Logger is used for structured logging (default: aiquota.NoopLogger)
	Logger aiquota.Logger

	// Now returns the current instant (default: time.Now).
	Now func() time.Time
}
