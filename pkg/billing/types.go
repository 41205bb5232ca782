package billing

import (
	"time"

	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// Subscription statuses that carry an entitlement. Every other status
// (canceled, incomplete, past_due, unpaid, ...) resolves to free.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusCanceled = "canceled"
)

// Metadata keys written on checkout and read back during reconciliation.
const (
	MetadataUserID = "user_id"
	MetadataPlan   = "plan"
)

// Subscription is the provider-neutral view of a payment-provider subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string // price of the first item, empty when there are no items
	Metadata          map[string]string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
}

// Customer links a user to exactly one payment-provider customer.
type Customer struct {
	UserID     string
	CustomerID string
	UpdatedAt  time.Time
}

// SubscriptionRow is the persisted record of one subscription, keyed by ID.
type SubscriptionRow struct {
	ID                string
	UserID            string
	CustomerID        string
	Status            string
	PriceID           string
	Tier              aiquota.Tier
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	UpdatedAt         time.Time
}

// SyncResult describes the outcome of one reconciliation.
type SyncResult struct {
	UserID       string
	CustomerID   string
	PreviousTier aiquota.Tier
	NewTier      aiquota.Tier
}

// Changed reports whether the user's effective tier moved.
func (r *SyncResult) Changed() bool {
	return r != nil && r.PreviousTier != r.NewTier
}
