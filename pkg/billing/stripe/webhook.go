package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subledger/pkg/billing/internal"
	"github.com/mihaimyh/subledger/pkg/subledger"
)

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	// A missing secret rejects every delivery rather than skipping verification.
	if len(p.webhookSecret) == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	// Signature verification (v83 uses stripe.ConstructEvent directly)
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "unknown"
	}

	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		status := http.StatusInternalServerError
		reason := "processing_error"
		if errors.Is(err, subledger.ErrMissingIdentity) || errors.Is(err, subledger.ErrInvalidEvent) {
			status = http.StatusBadRequest
			reason = "invalid_event"
		}
		http.Error(w, "failed to process webhook", status)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, reason)
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	internal.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"event":    eventType,
	})

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processWebhookEvent maps a Stripe event onto the ledger
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	eventTimestamp := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "customer.subscription.created":
		return p.handleSubscriptionEvent(ctx, event, subledger.EventSubscriptionCreated, eventTimestamp)
	case "customer.subscription.updated":
		return p.handleSubscriptionEvent(ctx, event, subledger.EventSubscriptionUpdated, eventTimestamp)
	case "customer.subscription.deleted":
		return p.handleSubscriptionEvent(ctx, event, subledger.EventSubscriptionCancelled, eventTimestamp)
	case "invoice.payment_succeeded":
		return p.handleInvoiceEvent(ctx, event, subledger.EventPaymentSuccess, eventTimestamp)
	case "invoice.payment_failed":
		return p.handleInvoiceEvent(ctx, event, subledger.EventPaymentFailed, eventTimestamp)
	case "checkout.session.completed":
		return p.handleCheckoutSessionCompleted(ctx, event, eventTimestamp)
	default:
		// Unknown event type - acknowledge without touching the ledger
		return nil
	}
}

// handleSubscriptionEvent processes the customer.subscription.* family
func (p *Provider) handleSubscriptionEvent(
	ctx context.Context, event *stripe.Event, eventType subledger.EventType, eventTimestamp time.Time,
) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	email := p.extractEmailFromSubscription(ctx, &subscription)

	_, err := p.ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           eventType,
		SubscriptionID: subscription.ID,
		Email:          email,
		Status:         mapSubscriptionStatus(subscription.Status),
		RenewsAt:       periodEndFromRaw(event.Data.Raw),
		CreatedAt:      &eventTimestamp,
	})
	return err
}

// handleInvoiceEvent processes invoice.payment_succeeded and invoice.payment_failed
func (p *Provider) handleInvoiceEvent(
	ctx context.Context, event *stripe.Event, eventType subledger.EventType, eventTimestamp time.Time,
) error {
	// The v83 Invoice struct doesn't expose the subscription reference
	// directly, so pull what we need from the raw event JSON.
	var invoice struct {
		CustomerEmail string          `json:"customer_email"`
		Subscription  json.RawMessage `json:"subscription"`
	}
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	subscriptionID := subscriptionIDFromRef(invoice.Subscription)
	if subscriptionID == "" {
		// Not a subscription invoice - ignore
		return nil
	}

	// Only resolve identity via the API when the invoice doesn't carry it
	email := invoice.CustomerEmail
	if email == "" {
		sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
		if err != nil {
			return fmt.Errorf("failed to fetch subscription: %w", err)
		}
		email = p.extractEmailFromSubscription(ctx, sub)
	}

	_, err := p.ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           eventType,
		SubscriptionID: subscriptionID,
		Email:          email,
		CreatedAt:      &eventTimestamp,
	})
	return err
}

// handleCheckoutSessionCompleted processes checkout.session.completed events.
// The subscription metadata is patched with the buyer's email so later
// subscription events can be correlated without a customer lookup.
func (p *Provider) handleCheckoutSessionCompleted(
	ctx context.Context, event *stripe.Event, eventTimestamp time.Time,
) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	email := ""
	if session.Metadata != nil {
		email = session.Metadata[metadataEmailKey]
	}
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	if email == "" {
		email = session.CustomerEmail
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	if subscriptionID == "" {
		// One-time payment checkout - nothing to reconcile
		return nil
	}

	sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	if email != "" && (sub.Metadata == nil || sub.Metadata[metadataEmailKey] == "") {
		params := &stripe.SubscriptionUpdateParams{}
		params.AddMetadata(metadataEmailKey, email)
		if sub, err = p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params); err != nil {
			return fmt.Errorf("failed to patch subscription metadata: %w", err)
		}
	}

	_, err = p.ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionCreated,
		SubscriptionID: subscriptionID,
		Email:          email,
		Status:         mapSubscriptionStatus(sub.Status),
		CreatedAt:      &eventTimestamp,
	})
	return err
}

// extractEmailFromSubscription resolves the ledger identity for a subscription.
// Returns "" when no identity can be found; the ledger rejects the event then.
func (p *Provider) extractEmailFromSubscription(ctx context.Context, sub *stripe.Subscription) string {
	if sub.Metadata != nil {
		if email := sub.Metadata[metadataEmailKey]; email != "" {
			return email
		}
	}

	if sub.Customer != nil {
		cust, err := p.stripeClient.V1Customers.Retrieve(ctx, sub.Customer.ID, nil)
		if err == nil {
			if cust.Metadata != nil && cust.Metadata[metadataEmailKey] != "" {
				return cust.Metadata[metadataEmailKey]
			}
			if cust.Email != "" {
				return cust.Email
			}
		}
	}

	return ""
}

// mapSubscriptionStatus translates Stripe subscription status vocabulary
// into the ledger's
func mapSubscriptionStatus(status stripe.SubscriptionStatus) string {
	if status == stripe.SubscriptionStatusTrialing {
		return "on_trial"
	}
	return string(status)
}

// periodEndFromRaw extracts current_period_end from event JSON. The v83
// Subscription struct no longer carries period fields at the top level.
func periodEndFromRaw(raw json.RawMessage) *time.Time {
	var data struct {
		CurrentPeriodEnd int64 `json:"current_period_end"`
	}
	if err := json.Unmarshal(raw, &data); err != nil || data.CurrentPeriodEnd <= 0 {
		return nil
	}
	ts := time.Unix(data.CurrentPeriodEnd, 0).UTC()
	return &ts
}

// subscriptionIDFromRef handles both expanded objects and plain ID strings
func subscriptionIDFromRef(ref json.RawMessage) string {
	if len(ref) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(ref, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ref, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
