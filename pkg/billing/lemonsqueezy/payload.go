package lemonsqueezy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mihaimyh/subledger/pkg/billing"
	"github.com/mihaimyh/subledger/pkg/subledger"
)

// webhookPayload represents the Lemon Squeezy webhook envelope
type webhookPayload struct {
	Meta struct {
		EventName  string `json:"event_name"`
		TestMode   bool   `json:"test_mode"`
		CustomData struct {
			UserEmail string `json:"user_email"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

// payloadAttributes are the subscription attributes the normalizer interprets.
// Everything else in the attributes object is carried through opaquely.
type payloadAttributes struct {
	Status        string `json:"status"`
	UserEmail     string `json:"user_email"`
	CustomerEmail string `json:"customer_email"`
	RenewsAt      string `json:"renews_at"`
	CreatedAt     string `json:"created_at"`
}

// normalizeEvent extracts a canonical BillingEvent from a raw webhook body.
//
// The user identity comes from, in order: (1) meta.custom_data.user_email —
// attached by our own checkout flow and therefore attacker-independent,
// (2) the payload's user_email, (3) the payload's customer_email. A mutating
// event with no resolvable identity is an error; unknown event types are
// accepted and normalize to an EventUnknown no-op.
func normalizeEvent(body []byte) (*subledger.BillingEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	eventType := subledger.ParseEventType(payload.Meta.EventName)

	var attrs payloadAttributes
	if len(payload.Data.Attributes) > 0 {
		// Attribute parse failures only matter for mutating events; the
		// envelope alone is enough to ignore an unknown one.
		if err := json.Unmarshal(payload.Data.Attributes, &attrs); err != nil && eventType.Mutating() {
			return nil, fmt.Errorf("%w: attributes: %v", billing.ErrInvalidWebhookPayload, err)
		}
	}

	email := firstNonEmpty(
		payload.Meta.CustomData.UserEmail,
		attrs.UserEmail,
		attrs.CustomerEmail,
	)
	if email == "" && eventType.Mutating() {
		return nil, fmt.Errorf("%w: event %s", subledger.ErrMissingIdentity, payload.Meta.EventName)
	}

	ev := &subledger.BillingEvent{
		Type:           eventType,
		SubscriptionID: payload.Data.ID,
		Email:          email,
		Status:         attrs.Status,
		RenewsAt:       parseTimestamp(attrs.RenewsAt),
		CreatedAt:      parseTimestamp(attrs.CreatedAt),
	}

	// Preserve the full attributes object for auditing; the reconciliation
	// logic never reads it.
	if len(payload.Data.Attributes) > 0 {
		var raw map[string]interface{}
		if err := json.Unmarshal(payload.Data.Attributes, &raw); err == nil {
			ev.RawAttributes = raw
		}
	}

	return ev, nil
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
}

func parseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil
		}
	}
	return &parsed
}
