// Package stripe implements the billing.Provider interface for Stripe.
// Stripe events are mapped onto the same normalized BillingEvents the
// Lemon Squeezy provider produces, so the ledger is provider-agnostic.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subledger/pkg/billing"
	"github.com/mihaimyh/subledger/pkg/billing/internal"
	"github.com/mihaimyh/subledger/pkg/subledger"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxBodyBytes             = 256 * 1024

	// metadataEmailKey is the checkout metadata field our application sets
	// to correlate Stripe objects with ledger users.
	metadataEmailKey = "user_email"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config

	// StripeAPIKey authenticates outbound API calls (customer lookups)
	StripeAPIKey string

	// StripeWebhookSecret verifies inbound webhook signatures (whsec_...)
	StripeWebhookSecret string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	ledger        *subledger.Ledger
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	webhookSecret []byte
	stripeClient  *stripe.Client
	metrics       billing.Metrics
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Ledger == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		ledger:        config.Ledger,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		webhookSecret: []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		stripeClient:  stripe.NewClient(apiKey),
		metrics:       metrics,
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

// SyncUser reconciles a user's ledger state from the Stripe API
func (p *Provider) SyncUser(ctx context.Context, email string) (subledger.Status, error) {
	return p.syncUserFromAPI(ctx, email)
}

var _ billing.Provider = (*Provider)(nil)
