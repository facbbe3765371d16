package subledger

import (
	"strings"
	"time"
)

// EventType identifies a billing lifecycle event reported by the payment provider.
type EventType string

const (
	// EventSubscriptionCreated is emitted when a new subscription is started
	EventSubscriptionCreated EventType = "subscription_created"
	// EventSubscriptionUpdated is emitted when a subscription changes (plan, status, renewal date)
	EventSubscriptionUpdated EventType = "subscription_updated"
	// EventSubscriptionCancelled is emitted when a subscription is cancelled by the user or provider
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	// EventSubscriptionExpired is emitted when a cancelled subscription passes its paid-through date
	EventSubscriptionExpired EventType = "subscription_expired"
	// EventPaymentSuccess is emitted on a successful recurring charge
	EventPaymentSuccess EventType = "subscription_payment_success"
	// EventPaymentFailed is emitted when a recurring charge fails
	EventPaymentFailed EventType = "subscription_payment_failed"
	// EventOrderCreated is emitted for one-time orders (no subscription id attached)
	EventOrderCreated EventType = "order_created"
	// EventUnknown covers provider event names outside the allow-list.
	// Unknown events are accepted but never mutate the ledger.
	EventUnknown EventType = ""
)

// ParseEventType maps a provider event name to an EventType via an explicit
// allow-list. Unrecognized names map to EventUnknown, which is not an error.
func ParseEventType(name string) EventType {
	switch EventType(strings.TrimSpace(name)) {
	case EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionCancelled,
		EventSubscriptionExpired,
		EventPaymentSuccess,
		EventPaymentFailed,
		EventOrderCreated:
		return EventType(strings.TrimSpace(name))
	default:
		return EventUnknown
	}
}

// Mutating reports whether events of this type may write to the ledger.
func (t EventType) Mutating() bool {
	return t != EventUnknown
}

// Status is the subscription state stored per user.
type Status string

const (
	// StatusNone means no paid activity has been observed yet
	StatusNone Status = "none"
	// StatusTrialing means the subscription is in a trial period
	StatusTrialing Status = "on_trial"
	// StatusActive means the subscription is paid and current
	StatusActive Status = "active"
	// StatusPastDue means the last recurring charge failed
	StatusPastDue Status = "past_due"
	// StatusCancelled is terminal for automatic transitions; only a fresh
	// subscription_created/updated event re-activates the record
	StatusCancelled Status = "cancelled"
	// StatusExpired is terminal, reached after a cancelled subscription runs out
	StatusExpired Status = "expired"
)

// ParseStatus maps a provider-reported status string to a Status.
// Returns (StatusNone, false) for strings outside the allow-list so the
// caller can keep the previous status rather than guessing.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on_trial", "trialing", "trial":
		return StatusTrialing, true
	case "active":
		return StatusActive, true
	case "past_due", "unpaid":
		return StatusPastDue, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	case "expired":
		return StatusExpired, true
	default:
		return StatusNone, false
	}
}

// Active reports whether the status grants access to paid features.
func (s Status) Active() bool {
	return s == StatusActive || s == StatusTrialing
}

// BillingEvent is the normalized form of one webhook delivery.
// Providers produce it; the Ledger consumes it. RawAttributes are preserved
// for auditing and never interpreted by the reconciliation logic.
type BillingEvent struct {
	Type           EventType
	SubscriptionID string
	Email          string
	Status         string
	RenewsAt       *time.Time
	CreatedAt      *time.Time
	RawAttributes  map[string]interface{}
}

// SubscriptionRecord is the durable per-user subscription and credit state.
// Records are created lazily on first billing activity and never deleted;
// Cancelled/Expired are terminal states, not removals.
type SubscriptionRecord struct {
	UserID              string
	Email               string
	SubscriptionID      string
	Status              Status
	Credits             int
	RenewsAt            *time.Time
	LastPaymentFailedAt *time.Time
	LastEventType       EventType
	RawAttributes       map[string]interface{}
	CreatedAt           time.Time
	LastUpdated         time.Time
}

// Clone returns a deep copy so storage adapters can hand out records without
// sharing mutable state.
func (r *SubscriptionRecord) Clone() *SubscriptionRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.RenewsAt != nil {
		t := *r.RenewsAt
		c.RenewsAt = &t
	}
	if r.LastPaymentFailedAt != nil {
		t := *r.LastPaymentFailedAt
		c.LastPaymentFailedAt = &t
	}
	if r.RawAttributes != nil {
		c.RawAttributes = make(map[string]interface{}, len(r.RawAttributes))
		for k, v := range r.RawAttributes {
			c.RawAttributes[k] = v
		}
	}
	return &c
}

// Snapshot is the read-side view returned by the query facade.
type Snapshot struct {
	UserID   string     `json:"user_id"`
	Status   Status     `json:"status"`
	Credits  int        `json:"credits"`
	IsActive bool       `json:"is_active"`
	RenewsAt *time.Time `json:"renews_at,omitempty"`
}

// Config holds Ledger configuration.
type Config struct {
	// GrantAmount is the credit balance set on each successful subscription
	// creation or renewal. The grant is a reset, never an increment, so
	// duplicate webhook deliveries cannot double-grant.
	// Default: 150.
	GrantAmount int

	// SignupCredits is the free balance given when a record is initialized
	// before any billing activity (InitializeUser). Default: 3.
	SignupCredits int

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking ledger operations (default: NoopMetrics)
	Metrics Metrics

	// Now overrides the time source, for tests. Default: time.Now.
	Now func() time.Time
}
