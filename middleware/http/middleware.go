// Package http provides HTTP middleware for subscription and credit gating
package http

import (
	"errors"
	"net/http"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// UserIDExtractor extracts the user's ledger key from an HTTP request.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Ledger is the subscription ledger instance (required)
	Ledger *subledger.Ledger

	// GetUserID extracts the user ID from the request (required)
	GetUserID UserIDExtractor

	// ConsumeCredit spends one credit per request instead of requiring an
	// active subscription. Users in terminal states keep spending their
	// remaining balance; only an empty balance blocks the request.
	ConsumeCredit bool

	// OnPaywall is called when the user has no active subscription.
	// If nil, returns 402 Payment Required. snap is nil when the user has
	// no billing history at all.
	OnPaywall func(w http.ResponseWriter, r *http.Request, snap *subledger.Snapshot)

	// OnNoCredits is called when ConsumeCredit is set and the balance is empty.
	// If nil, returns 402 Payment Required.
	OnNoCredits func(w http.ResponseWriter, r *http.Request)

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that gates requests on subscription
// state. By default a request passes only when the user's snapshot reports
// an active (or trialing) subscription; with ConsumeCredit the gate is the
// credit balance instead.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				unauthorized(config, w, r)
				return
			}

			ctx := r.Context()

			if config.ConsumeCredit {
				_, err := config.Ledger.ConsumeCredit(ctx, userID)
				switch {
				case err == nil:
					next.ServeHTTP(w, r)
				case errors.Is(err, subledger.ErrNoCredits):
					noCredits(config, w, r)
				case errors.Is(err, subledger.ErrRecordNotFound):
					paywall(config, w, r, nil)
				default:
					internalError(config, w, r, err)
				}
				return
			}

			snap, err := config.Ledger.Snapshot(ctx, userID)
			if err != nil {
				if errors.Is(err, subledger.ErrRecordNotFound) {
					paywall(config, w, r, nil)
				} else {
					internalError(config, w, r, err)
				}
				return
			}
			if !snap.IsActive {
				paywall(config, w, r, snap)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates requests (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// FromHeader returns a UserIDExtractor that reads the user ID from a header.
// Only use behind a trusted proxy that sets the header after authentication.
func FromHeader(header string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

// FromContext returns a UserIDExtractor that reads the user ID from the
// request context, for integrating with auth middleware that stores the
// authenticated user there.
func FromContext(key interface{}) UserIDExtractor {
	return func(r *http.Request) string {
		if val := r.Context().Value(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

func unauthorized(config Config, w http.ResponseWriter, r *http.Request) {
	if config.OnUnauthorized != nil {
		config.OnUnauthorized(w, r)
		return
	}
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func paywall(config Config, w http.ResponseWriter, r *http.Request, snap *subledger.Snapshot) {
	if config.OnPaywall != nil {
		config.OnPaywall(w, r, snap)
		return
	}
	http.Error(w, "Payment Required: no active subscription", http.StatusPaymentRequired)
}

func noCredits(config Config, w http.ResponseWriter, r *http.Request) {
	if config.OnNoCredits != nil {
		config.OnNoCredits(w, r)
		return
	}
	http.Error(w, "Payment Required: out of credits", http.StatusPaymentRequired)
}

func internalError(config Config, w http.ResponseWriter, r *http.Request, err error) {
	if config.OnError != nil {
		config.OnError(w, r, err)
		return
	}
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
