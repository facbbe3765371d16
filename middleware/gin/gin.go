// Package gin provides Gin middleware for subscription and credit gating
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// UserIDExtractor extracts the user's ledger key from a Gin context.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Ledger is the subscription ledger instance (required)
	Ledger *subledger.Ledger

	// GetUserID extracts the user ID from context (required)
	GetUserID UserIDExtractor

	// ConsumeCredit spends one credit per request instead of requiring an
	// active subscription.
	ConsumeCredit bool

	// OnPaywall is called when the user has no active subscription.
	// If nil, aborts with 402 JSON. snap is nil when the user has no record.
	OnPaywall func(c *gongin.Context, snap *subledger.Snapshot)

	// OnNoCredits is called when ConsumeCredit is set and the balance is empty.
	// If nil, aborts with 402 JSON.
	OnNoCredits func(c *gongin.Context)

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, aborts with 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs.
	// If nil, aborts with 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that gates requests on subscription state
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("subledger/gin: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("subledger/gin: Config.GetUserID is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			return
		}

		ctx := c.Request.Context()

		if cfg.ConsumeCredit {
			_, err := cfg.Ledger.ConsumeCredit(ctx, userID)
			switch {
			case err == nil:
				c.Next()
			case errors.Is(err, subledger.ErrNoCredits):
				if cfg.OnNoCredits != nil {
					cfg.OnNoCredits(c)
					return
				}
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gongin.H{"error": "Out of credits"})
			case errors.Is(err, subledger.ErrRecordNotFound):
				handlePaywall(cfg, c, nil)
			default:
				handleError(cfg, c, err)
			}
			return
		}

		snap, err := cfg.Ledger.Snapshot(ctx, userID)
		if err != nil {
			if errors.Is(err, subledger.ErrRecordNotFound) {
				handlePaywall(cfg, c, nil)
			} else {
				handleError(cfg, c, err)
			}
			return
		}
		if !snap.IsActive {
			handlePaywall(cfg, c, snap)
			return
		}

		c.Next()
	}
}

func handlePaywall(cfg Config, c *gongin.Context, snap *subledger.Snapshot) {
	if cfg.OnPaywall != nil {
		cfg.OnPaywall(c, snap)
		return
	}
	if snap != nil {
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gongin.H{
			"error":  "No active subscription",
			"status": snap.Status,
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, gongin.H{"error": "No active subscription"})
}

func handleError(cfg Config, c *gongin.Context, err error) {
	if cfg.OnError != nil {
		cfg.OnError(c, err)
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
}

// FromContext returns a UserIDExtractor that gets the user ID from Gin
// context values, for integrating with auth middleware that calls
// c.Set("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, ok := c.Get(key); ok {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that reads the user ID from a header.
// Only use behind a trusted proxy that sets the header after authentication.
func FromHeader(header string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(header)
	}
}
