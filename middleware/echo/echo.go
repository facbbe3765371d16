// Package echo provides Echo middleware for subscription and credit gating
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// UserIDExtractor extracts the user's ledger key from an Echo context.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(c echo.Context) string

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
	// If nil, returns 402 JSON. snap is nil when the user has no record.
	OnPaywall func(c echo.Context, snap *subledger.Snapshot) error

	// OnNoCredits is called when ConsumeCredit is set and the balance is empty.
	// If nil, returns 402 JSON.
	OnNoCredits func(c echo.Context) error

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that gates requests on subscription state
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("subledger/echo: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("subledger/echo: Config.GetUserID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			ctx := c.Request().Context()

			if cfg.ConsumeCredit {
				_, err := cfg.Ledger.ConsumeCredit(ctx, userID)
				switch {
				case err == nil:
					return next(c)
				case errors.Is(err, subledger.ErrNoCredits):
					if cfg.OnNoCredits != nil {
						return cfg.OnNoCredits(c)
					}
					return c.JSON(http.StatusPaymentRequired, map[string]string{"error": "Out of credits"})
				case errors.Is(err, subledger.ErrRecordNotFound):
					return handlePaywall(cfg, c, nil)
				default:
					return handleError(cfg, c, err)
				}
			}

			snap, err := cfg.Ledger.Snapshot(ctx, userID)
			if err != nil {
				if errors.Is(err, subledger.ErrRecordNotFound) {
					return handlePaywall(cfg, c, nil)
				}
				return handleError(cfg, c, err)
			}
			if !snap.IsActive {
				return handlePaywall(cfg, c, snap)
			}

			return next(c)
		}
	}
}

func handlePaywall(cfg Config, c echo.Context, snap *subledger.Snapshot) error {
	if cfg.OnPaywall != nil {
		return cfg.OnPaywall(c, snap)
	}
	if snap != nil {
		return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
			"error":  "No active subscription",
			"status": snap.Status,
		})
	}
	return c.JSON(http.StatusPaymentRequired, map[string]string{"error": "No active subscription"})
}

func handleError(cfg Config, c echo.Context, err error) error {
	if cfg.OnError != nil {
		return cfg.OnError(c, err)
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// FromContext returns a UserIDExtractor that gets the user ID from Echo
// context values, for integrating with auth middleware that calls
// c.Set("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
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
	return func(c echo.Context) string {
		return c.Request().Header.Get(header)
	}
}
