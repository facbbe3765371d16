// Package fiber provides Fiber middleware for subscription and credit gating
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// UserIDExtractor extracts the user's ledger key from a Fiber context.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnPaywall func(c *fiber.Ctx, snap *subledger.Snapshot) error

	// OnNoCredits is called when ConsumeCredit is set and the balance is empty.
	// If nil, returns 402 JSON.
	OnNoCredits func(c *fiber.Ctx) error

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that gates requests on subscription state
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("subledger/fiber: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("subledger/fiber: Config.GetUserID is required")
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		// CRITICAL: Fiber uses fasthttp, so we must use c.UserContext() to get context.Context
		ctx := c.UserContext()

		if cfg.ConsumeCredit {
			_, err := cfg.Ledger.ConsumeCredit(ctx, userID)
			switch {
			case err == nil:
				return c.Next()
			case errors.Is(err, subledger.ErrNoCredits):
				if cfg.OnNoCredits != nil {
					return cfg.OnNoCredits(c)
				}
				return defaultNoCredits(c)
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

		return c.Next()
	}
}

func handlePaywall(cfg Config, c *fiber.Ctx, snap *subledger.Snapshot) error {
	if cfg.OnPaywall != nil {
		return cfg.OnPaywall(c, snap)
	}
	if snap != nil {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":  "No active subscription",
			"status": snap.Status,
		})
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "No active subscription"})
}

func handleError(cfg Config, c *fiber.Ctx, err error) error {
	if cfg.OnError != nil {
		return cfg.OnError(c, err)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultNoCredits(c *fiber.Ctx) error {
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "Out of credits"})
}

// FromContext returns a UserIDExtractor that gets the user ID from Fiber
// Locals, for integrating with auth middleware that sets
// c.Locals("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
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
	return func(c *fiber.Ctx) string {
		return c.Get(header)
	}
}
