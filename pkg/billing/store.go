package billing

import (
	"context"

	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// Store persists customers, subscription rows and the denormalized user tier.
// Lookups that find nothing return ErrCustomerNotFound rather than a nil value.
type Store interface {
	// GetCustomerByUser returns the customer mapping for a user.
	GetCustomerByUser(ctx context.Context, userID string) (*Customer, error)

	// GetCustomerByID returns the customer mapping for a provider customer id.
	GetCustomerByID(ctx context.Context, customerID string) (*Customer, error)

	// UpsertCustomer inserts or replaces the mapping, keyed by user id.
	UpsertCustomer(ctx context.Context, customer *Customer) error

	// UpsertSubscription inserts or replaces a row, keyed by subscription id.
	UpsertSubscription(ctx context.Context, row *SubscriptionRow) error

	// ListSubscriptions returns every row of a user, in no particular order.
	ListSubscriptions(ctx context.Context, userID string) ([]SubscriptionRow, error)

	// CancelCustomerSubscriptions marks every row of the customer canceled with tier free.
	CancelCustomerSubscriptions(ctx context.Context, customerID string) error

	// GetUserTier returns the denormalized tier, free when none was ever written.
	GetUserTier(ctx context.Context, userID string) (aiquota.Tier, error)

	// SetUserTier writes the denormalized tier.
	SetUserTier(ctx context.Context, userID string, tier aiquota.Tier) error
}
