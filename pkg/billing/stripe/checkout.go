package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
)

// EnsureCustomer returns the user's Stripe customer, creating and persisting
// it on first use.
func (p *Provider) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	existing, err := p.store.GetCustomerByUser(ctx, userID)
	if err == nil {
		return existing.CustomerID, nil
	}
	if !errors.Is(err, billing.ErrCustomerNotFound) {
		// A lookup failure must not create a duplicate customer.
		return "", fmt.Errorf("failed to load billing customer: %w", err)
	}

	customerID, err := p.api.CreateCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}
	if err := p.store.UpsertCustomer(ctx, &billing.Customer{
		UserID:     userID,
		CustomerID: customerID,
		UpdatedAt:  p.now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("failed to save billing customer: %w", err)
	}
	p.logger.Info("created stripe customer",
		aiquota.F("user_id", userID),
		aiquota.F("customer_id", customerID))
	return customerID, nil
}

// CheckoutURL creates a subscription Checkout Session for a paid plan and returns its URL.
func (p *Provider) CheckoutURL(ctx context.Context, userID, email string, plan aiquota.Tier,
	successURL, cancelURL string) (string, error) {
	if plan != aiquota.TierPlus && plan != aiquota.TierPro {
		return "", fmt.Errorf("%w: %q", billing.ErrTierNotConfigured, plan)
	}
	priceID := p.prices.PriceFor(plan)
	if priceID == "" {
		return "", fmt.Errorf("%w: %s", billing.ErrTierNotConfigured, plan)
	}

	customerID, err := p.EnsureCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}

	return p.api.CreateCheckoutSession(ctx, &CheckoutRequest{
		CustomerID: customerID,
		UserID:     userID,
		Plan:       plan,
		PriceID:    priceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
}

// PortalURL creates a Customer Portal session. It returns
// billing.ErrCustomerNotFound when the user never went through checkout.
func (p *Provider) PortalURL(ctx context.Context, userID, returnURL string) (string, error) {
	customer, err := p.store.GetCustomerByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.api.CreatePortalSession(ctx, customer.CustomerID, returnURL)
}
