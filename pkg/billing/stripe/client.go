package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
)

// CheckoutRequest describes a subscription checkout session.
type CheckoutRequest struct {
	CustomerID string
	UserID     string
	Plan       aiquota.Tier
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// API is the subset of the Stripe API this service calls.
type API interface {
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error)
	ListCustomerSubscriptions(ctx context.Context, customerID string) ([]*billing.Subscription, error)
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// APIClient implements API over stripe-go.
type APIClient struct {
	client  *stripe.Client
	timeout time.Duration
	metrics billing.Metrics
}

// NewAPIClient creates a Stripe API client. Each call is bounded by timeout.
func NewAPIClient(apiKey string, timeout time.Duration, metrics billing.Metrics) *APIClient {
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	return &APIClient{
		client:  stripe.NewClient(apiKey),
		timeout: timeout,
		metrics: metrics,
	}
}

// call runs fn under the per-call timeout and records the outcome.
func (c *APIClient) call(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	c.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
	if err != nil {
		c.metrics.RecordAPICall(providerName, endpoint, "error")
		return fmt.Errorf("%w: %s: %v", billing.ErrProviderAPIError, endpoint, err)
	}
	c.metrics.RecordAPICall(providerName, endpoint, "success")
	return nil
}

func (c *APIClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	var sub *stripe.Subscription
	err := c.call(ctx, "/subscriptions/{id}", func(ctx context.Context) error {
		var e error
		sub, e = c.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
		return e
	})
	if err != nil {
		return nil, err
	}
	return fromStripeSubscription(sub), nil
}

func (c *APIClient) ListCustomerSubscriptions(ctx context.Context, customerID string) ([]*billing.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String("all")

	var subs []*billing.Subscription
	err := c.call(ctx, "/subscriptions", func(ctx context.Context) error {
		for sub, e := range c.client.V1Subscriptions.List(ctx, params) {
			if e != nil {
				return e
			}
			subs = append(subs, fromStripeSubscription(sub))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (c *APIClient) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerCreateParams{}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata(billing.MetadataUserID, userID)

	var customer *stripe.Customer
	err := c.call(ctx, "/customers", func(ctx context.Context) error {
		var e error
		customer, e = c.client.V1Customers.Create(ctx, params)
		return e
	})
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (c *APIClient) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (string, error) {
	var session *stripe.CheckoutSession
	err := c.call(ctx, "/checkout/sessions", func(ctx context.Context) error {
		var e error
		session, e = c.client.V1CheckoutSessions.Create(ctx, checkoutParams(req))
		return e
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

func (c *APIClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	var session *stripe.BillingPortalSession
	err := c.call(ctx, "/billing_portal/sessions", func(ctx context.Context) error {
		var e error
		session, e = c.client.V1BillingPortalSessions.Create(ctx, params)
		return e
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// checkoutParams stamps user_id and plan on both the session and the
// subscription it creates; webhooks for either object can then attribute the user.
func checkoutParams(req *CheckoutRequest) *stripe.CheckoutSessionCreateParams {
	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(req.CustomerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:          stripe.String(req.SuccessURL),
		CancelURL:           stripe.String(req.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
		ClientReferenceID:   stripe.String(req.UserID),
	}
	params.AddMetadata(billing.MetadataUserID, req.UserID)
	params.AddMetadata(billing.MetadataPlan, string(req.Plan))

	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(billing.MetadataUserID, req.UserID)
	params.SubscriptionData.AddMetadata(billing.MetadataPlan, string(req.Plan))
	return params
}
