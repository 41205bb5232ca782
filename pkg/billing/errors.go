package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrTierNotConfigured is returned when no price is configured for a tier
	ErrTierNotConfigured = errors.New("tier not configured in price table")

	// ErrCustomerNotFound is returned when no customer mapping exists
	ErrCustomerNotFound = errors.New("billing customer not found")

	// ErrMissingCustomer is returned when a subscription carries no customer reference
	ErrMissingCustomer = errors.New("subscription has no customer")

	// ErrOrphanSubscription is returned when a subscription cannot be attributed to a user
	ErrOrphanSubscription = errors.New("no user mapping for subscription")
)
