package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/xtract/pkg/aiquota"
	"github.com/mihaimyh/xtract/pkg/billing"
	"github.com/mihaimyh/xtract/pkg/billing/internal"
)

const (
	providerName              = "stripe"
	defaultAPITimeout         = 10 * time.Second
	defaultSignatureTolerance = 300 * time.Second
	defaultRateLimitWindow    = time.Minute
	defaultRateLimitRequests  = 100
	maxWebhookBodyBytes       = 256 * 1024
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Store, Prices, Metrics, Logger, Now

	StripeAPIKey        string
	StripeWebhookSecret string

	// API overrides the Stripe API client (tests). When nil a client is built
	// from StripeAPIKey.
	API API

	// APITimeout bounds every outbound Stripe call (default: 10s).
	APITimeout time.Duration

	// SignatureTolerance is the accepted |now - t| skew of a webhook signature (default: 300s).
	SignatureTolerance time.Duration

	// RateLimitRequests per RateLimitWindow per client IP on the webhook endpoint
	// (defaults: 100 per minute).
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Provider implements billing.Provider for Stripe
type Provider struct {
	reconciler    *billing.Reconciler
	store         billing.Store
	prices        billing.PriceTable
	api           API
	metrics       billing.Metrics
	logger        aiquota.Logger
	rateLimiter   *internal.RateLimiter
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	config.ProviderName = providerName

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	config.Metrics = metrics
	logger := config.Logger
	if logger == nil {
		logger = aiquota.NoopLogger{}
	}
	config.Logger = logger
	now := config.Now
	if now == nil {
		now = time.Now
	}
	config.Now = now

	api := config.API
	if api == nil {
		apiKey := strings.TrimSpace(config.StripeAPIKey)
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		timeout := config.APITimeout
		if timeout <= 0 {
			timeout = defaultAPITimeout
		}
		api = NewAPIClient(apiKey, timeout, metrics)
	}

	tolerance := config.SignatureTolerance
	if tolerance <= 0 {
		tolerance = defaultSignatureTolerance
	}
	requests := config.RateLimitRequests
	if requests <= 0 {
		requests = defaultRateLimitRequests
	}
	window := config.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	reconciler, err := billing.NewReconciler(config.Config)
	if err != nil {
		return nil, err
	}

	return &Provider{
		reconciler:    reconciler,
		store:         config.Store,
		prices:        reconciler.Prices(),
		api:           api,
		metrics:       metrics,
		logger:        logger,
		rateLimiter:   internal.NewRateLimiter(requests, window),
		webhookSecret: strings.TrimSpace(config.StripeWebhookSecret),
		tolerance:     tolerance,
		now:           now,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}
