// Package billing defines the provider abstraction that feeds normalized
// payment events into the subscription ledger.
package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// Provider is the generic interface that any billing backend must implement.
// This allows the application to swap Lemon Squeezy for Stripe with zero
// ledger changes.
type Provider interface {
	// Name returns the provider name (e.g., "lemonsqueezy", "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles signature verification, parsing, and ledger
	// updates internally.
	WebhookHandler() http.Handler

	// SyncUser forces a synchronization of the user's subscription state from
	// the provider into the ledger. This is used for "Restore Purchases" or
	// nightly reconciliation jobs. Returns the resulting status and any error.
	SyncUser(ctx context.Context, email string) (subledger.Status, error)
}
