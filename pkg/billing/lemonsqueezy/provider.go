// Package lemonsqueezy implements the billing.Provider interface for
// Lemon Squeezy webhooks and its subscriptions API.
package lemonsqueezy

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/subledger/pkg/billing"
	"github.com/mihaimyh/subledger/pkg/billing/internal"
	"github.com/mihaimyh/subledger/pkg/subledger"
)

const (
	providerName             = "lemonsqueezy"
	apiBaseURL               = "https://api.lemonsqueezy.com/v1"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxBodyBytes             = 256 * 1024
	signatureHeader          = "X-Signature"
)

// Provider implements the billing.Provider interface for Lemon Squeezy
type Provider struct {
	ledger      *subledger.Ledger
	httpClient  *http.Client
	rateLimiter *internal.RateLimiter
	secret      []byte
	apiKey      string
	apiBase     string
	metrics     billing.Metrics
}

// NewProvider creates a new Lemon Squeezy billing provider
func NewProvider(config billing.Config) (*Provider, error) {
	if config.Ledger == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	apiKey := strings.TrimSpace(config.APIKey)
	if strings.HasPrefix(strings.ToLower(apiKey), "bearer ") {
		apiKey = strings.TrimSpace(apiKey[len("bearer "):])
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		ledger:      config.Ledger,
		httpClient:  httpClient,
		rateLimiter: internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		secret:      []byte(strings.TrimSpace(config.WebhookSecret)),
		apiKey:      apiKey,
		apiBase:     apiBaseURL,
		metrics:     metrics,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Lemon Squeezy webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// SyncUser synchronizes a user's subscription state from the Lemon Squeezy API
func (p *Provider) SyncUser(ctx context.Context, email string) (subledger.Status, error) {
	return p.syncUserFromAPI(ctx, email)
}
