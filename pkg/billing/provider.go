package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// Provider is a payment backend that feeds the Reconciler.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	WebhookHandler() http.Handler

	// SyncUser re-reads every subscription of the user's customer from the
	// provider and reconciles them. Used for "restore purchases" style repairs.
	SyncUser(ctx context.Context, userID string) (aiquota.Tier, error)
}
