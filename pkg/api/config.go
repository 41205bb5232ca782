package api

import (
	"context"
	"fmt"

	"github.com/mihaimyh/xtract/pkg/ai"
	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
)

// TierReader resolves the denormalized tier of a user. billing.Store satisfies it.
type TierReader interface {
	GetUserTier(ctx context.Context, userID string) (aiquota.Tier, error)
}

// BillingService is the payment-provider surface used by the billing routes.
// *stripe.Provider satisfies it.
type BillingService interface {
	billing.Provider
	CheckoutURL(ctx context.Context, userID, email string, plan aiquota.Tier, successURL, cancelURL string) (string, error)
	PortalURL(ctx context.Context, userID, returnURL string) (string, error)
}

// Config holds configuration for the API handler
type Config struct {
	// Manager is the quota manager instance (required)
	Manager *aiquota.Manager

	// Tiers resolves the caller's tier (required)
	Tiers TierReader

	// Generator produces assistant text (required)
	Generator ai.Generator

	// Billing serves checkout, portal and sync. If nil, those routes answer 503.
	Billing BillingService

	// AppURL is the public base URL used to build redirect URLs (required)
	AppURL string

	// Logger is used for structured logging (default: NoopLogger)
	Logger aiquota.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Tiers == nil {
		return fmt.Errorf("tier reader is required")
	}
	if c.Generator == nil {
		return fmt.Errorf("generator is required")
	}
	if c.AppURL == "" {
		return fmt.Errorf("app URL is required")
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = aiquota.NoopLogger{}
	}
	return &Handler{config: config}, nil
}
