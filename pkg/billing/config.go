package billing

import (
	"net/http"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Ledger is the subledger.Ledger instance that webhook events are applied to
	Ledger *subledger.Ledger

	// WebhookSecret is the shared secret used to verify inbound webhook
	// requests. Verification fails closed: an empty secret rejects every
	// delivery rather than accepting unsigned ones.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider (e.g. SyncUser).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for tracking webhook processing.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics
}
