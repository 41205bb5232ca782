package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/xtract/pkg/aiquota"
)

// Reconciler writes payment-provider subscription state back to the Store.
// Every sync recomputes the user's tier from all of their rows, so replaying
// an event or receiving events out of order converges on the same tier.
type Reconciler struct {
	store    Store
	prices   PriceTable
	provider string
	metrics  Metrics
	logger   aiquota.Logger
	now      func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(config Config) (*Reconciler, error) {
	if config.Store == nil {
		return nil, ErrProviderNotConfigured
	}
	prices := config.Prices
	if prices == nil {
		prices = PriceTable{}
	}
	provider := config.ProviderName
	if provider == "" {
		provider = "stripe"
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = aiquota.NoopLogger{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		store:    config.Store,
		prices:   prices,
		provider: provider,
		metrics:  metrics,
		logger:   logger,
		now:      now,
	}, nil
}

// Prices returns the price table used for tier resolution.
func (r *Reconciler) Prices() PriceTable {
	return r.prices
}

// UserTier returns the user's denormalized tier.
func (r *Reconciler) UserTier(ctx context.Context, userID string) (aiquota.Tier, error) {
	return r.store.GetUserTier(ctx, userID)
}

// SyncFromSubscription upserts the customer mapping and the subscription row,
// then recomputes and writes the user's effective tier.
func (r *Reconciler) SyncFromSubscription(ctx context.Context, sub *Subscription) (*SyncResult, error) {
	start := r.now()
	result, err := r.syncFromSubscription(ctx, sub)
	r.recordSync(start, err)
	return result, err
}

func (r *Reconciler) syncFromSubscription(ctx context.Context, sub *Subscription) (*SyncResult, error) {
	if sub == nil || sub.CustomerID == "" {
		id := ""
		if sub != nil {
			id = sub.ID
		}
		return nil, fmt.Errorf("%w: %s", ErrMissingCustomer, id)
	}

	userID, err := r.attributeUser(ctx, sub)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	if err := r.store.UpsertCustomer(ctx, &Customer{
		UserID:     userID,
		CustomerID: sub.CustomerID,
		UpdatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("failed to sync billing customer: %w", err)
	}

	row := &SubscriptionRow{
		ID:                sub.ID,
		UserID:            userID,
		CustomerID:        sub.CustomerID,
		Status:            sub.Status,
		PriceID:           sub.PriceID,
		Tier:              ResolveTier(sub, r.prices),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		UpdatedAt:         now,
	}
	if err := r.store.UpsertSubscription(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to sync subscription %s: %w", sub.ID, err)
	}

	return r.recompute(ctx, userID, sub.CustomerID)
}

// attributeUser prefers the user_id metadata stamped at checkout and falls
// back to the stored customer mapping.
func (r *Reconciler) attributeUser(ctx context.Context, sub *Subscription) (string, error) {
	if userID := sub.Metadata[MetadataUserID]; userID != "" {
		return userID, nil
	}
	customer, err := r.store.GetCustomerByID(ctx, sub.CustomerID)
	if errors.Is(err, ErrCustomerNotFound) {
		return "", fmt.Errorf("%w: subscription %s, customer %s", ErrOrphanSubscription, sub.ID, sub.CustomerID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to find user by customer: %w", err)
	}
	return customer.UserID, nil
}

// MarkCustomerFree cancels every row of the customer and recomputes the
// user's tier. A customer with no user mapping is a no-op (nil result).
func (r *Reconciler) MarkCustomerFree(ctx context.Context, customerID string) (*SyncResult, error) {
	start := r.now()
	result, err := r.markCustomerFree(ctx, customerID)
	r.recordSync(start, err)
	return result, err
}

func (r *Reconciler) markCustomerFree(ctx context.Context, customerID string) (*SyncResult, error) {
	if customerID == "" {
		return nil, ErrMissingCustomer
	}
	customer, err := r.store.GetCustomerByID(ctx, customerID)
	if errors.Is(err, ErrCustomerNotFound) {
		r.logger.Warn("subscription deleted for unknown customer",
			aiquota.F("customer_id", customerID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by customer: %w", err)
	}

	if err := r.store.CancelCustomerSubscriptions(ctx, customerID); err != nil {
		return nil, fmt.Errorf("failed to mark subscriptions free: %w", err)
	}
	return r.recompute(ctx, customer.UserID, customerID)
}

func (r *Reconciler) recompute(ctx context.Context, userID, customerID string) (*SyncResult, error) {
	previous, err := r.store.GetUserTier(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user tier: %w", err)
	}
	rows, err := r.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	tier := EffectiveTier(rows)
	if err := r.store.SetUserTier(ctx, userID, tier); err != nil {
		return nil, fmt.Errorf("failed to update user tier: %w", err)
	}

	result := &SyncResult{
		UserID:       userID,
		CustomerID:   customerID,
		PreviousTier: previous,
		NewTier:      tier,
	}
	if result.Changed() {
		r.metrics.RecordTierChange(r.provider, string(previous), string(tier))
		r.logger.Info("user tier changed",
			aiquota.F("user_id", userID),
			aiquota.F("from", previous),
			aiquota.F("to", tier))
	}
	return result, nil
}

func (r *Reconciler) recordSync(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordUserSync(r.provider, status)
	r.metrics.RecordUserSyncDuration(r.provider, r.now().Sub(start))
}
