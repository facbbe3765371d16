package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subledger/pkg/billing"
	"github.com/mihaimyh/subledger/pkg/subledger"
)

// syncUserFromAPI reconciles the ledger from the Stripe API. The customer is
// located by email via the Search API, then the freshest subscription wins.
func (p *Provider) syncUserFromAPI(ctx context.Context, email string) (subledger.Status, error) {
	startTime := time.Now()

	customerID, err := p.searchCustomerByEmail(ctx, email)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return subledger.StatusNone, err
	}

	newest, err := p.newestSubscription(ctx, customerID)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return subledger.StatusNone, err
	}
	if newest == nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return subledger.StatusNone, billing.ErrUserNotFound
	}

	record, err := p.ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionUpdated,
		SubscriptionID: newest.ID,
		Email:          email,
		Status:         mapSubscriptionStatus(newest.Status),
	})
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return subledger.StatusNone, err
	}

	p.metrics.RecordUserSync(providerName, "success")
	p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	return record.Status, nil
}

// searchCustomerByEmail finds a Stripe customer by email using the Search API
func (p *Provider) searchCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("email:'%s'", strings.ReplaceAll(email, "'", `\'`))

	// Use new client API for Search (v83)
	for cust, err := range p.stripeClient.V1Customers.Search(ctx, params) {
		if err != nil {
			return "", fmt.Errorf("%w: customer search: %v", billing.ErrProviderAPIError, err)
		}
		// Search can return partial matches; require an exact one
		if strings.EqualFold(cust.Email, email) {
			return cust.ID, nil
		}
	}

	return "", billing.ErrUserNotFound
}

// newestSubscription returns the customer's most recently created
// subscription in any status, or nil when the customer has none
func (p *Provider) newestSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String("all")

	var newest *stripe.Subscription
	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("%w: subscription list: %v", billing.ErrProviderAPIError, err)
		}
		if newest == nil || sub.Created > newest.Created {
			newest = sub
		}
	}

	return newest, nil
}
