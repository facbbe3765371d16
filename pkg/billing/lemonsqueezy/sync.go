package lemonsqueezy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mihaimyh/subledger/pkg/billing"
	"github.com/mihaimyh/subledger/pkg/subledger"
)

// subscriptionList is the JSON:API response shape for GET /v1/subscriptions
type subscriptionList struct {
	Data []struct {
		ID         string            `json:"id"`
		Attributes payloadAttributes `json:"attributes"`
	} `json:"data"`
}

// syncUserFromAPI fetches the user's subscriptions from the Lemon Squeezy
// API and applies the freshest one as a synthetic update event. Used for
// "restore purchases" and nightly reconciliation against missed webhooks.
func (p *Provider) syncUserFromAPI(ctx context.Context, email string) (subledger.Status, error) {
	startTime := time.Now()

	status, err := p.doSync(ctx, email)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.metrics.RecordUserSync(providerName, outcome)
	p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	return status, err
}

func (p *Provider) doSync(ctx context.Context, email string) (subledger.Status, error) {
	if p.apiKey == "" {
		return subledger.StatusNone, billing.ErrProviderNotConfigured
	}
	email = subledger.NormalizeEmail(email)
	if email == "" {
		return subledger.StatusNone, subledger.ErrMissingIdentity
	}

	endpoint := fmt.Sprintf("%s/subscriptions?filter[user_email]=%s", p.apiBase, url.QueryEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return subledger.StatusNone, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return subledger.StatusNone, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return subledger.StatusNone, billing.ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return subledger.StatusNone, fmt.Errorf("%w: status %d", billing.ErrProviderAPIError, resp.StatusCode)
	}

	var list subscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return subledger.StatusNone, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	if len(list.Data) == 0 {
		return subledger.StatusNone, billing.ErrUserNotFound
	}

	// Apply the most recently created subscription; older ones are stale.
	chosen := list.Data[0]
	chosenCreated := parseTimestamp(chosen.Attributes.CreatedAt)
	for _, candidate := range list.Data[1:] {
		created := parseTimestamp(candidate.Attributes.CreatedAt)
		if chosenCreated == nil || (created != nil && created.After(*chosenCreated)) {
			chosen = candidate
			chosenCreated = created
		}
	}

	rec, err := p.ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionUpdated,
		SubscriptionID: chosen.ID,
		Email:          email,
		Status:         chosen.Attributes.Status,
		RenewsAt:       parseTimestamp(chosen.Attributes.RenewsAt),
		CreatedAt:      chosenCreated,
	})
	if err != nil {
		return subledger.StatusNone, err
	}
	return rec.Status, nil
}
