package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
)

// SyncUser re-reads every subscription of the user's customer from Stripe and
// reconciles each one. Users without a customer keep their stored tier.
func (p *Provider) SyncUser(ctx context.Context, userID string) (aiquota.Tier, error) {
	customer, err := p.store.GetCustomerByUser(ctx, userID)
	if errors.Is(err, billing.ErrCustomerNotFound) {
		return p.reconciler.UserTier(ctx, userID)
	}
	if err != nil {
		return aiquota.TierFree, fmt.Errorf("failed to load billing customer: %w", err)
	}

	subs, err := p.api.ListCustomerSubscriptions(ctx, customer.CustomerID)
	if err != nil {
		return aiquota.TierFree, err
	}

	tier := aiquota.TierFree
	for _, sub := range subs {
		if sub.Metadata[billing.MetadataUserID] == "" {
			// Subscriptions created outside checkout carry no user_id;
			// the customer mapping identifies the user.
			meta := make(map[string]string, len(sub.Metadata)+1)
			for k, v := range sub.Metadata {
				meta[k] = v
			}
			meta[billing.MetadataUserID] = userID
			sub.Metadata = meta
		}
		result, err := p.reconciler.SyncFromSubscription(ctx, sub)
		if err != nil {
			return aiquota.TierFree, err
		}
		tier = result.NewTier
	}
	if len(subs) == 0 {
		return p.reconciler.UserTier(ctx, userID)
	}
	return tier, nil
}
