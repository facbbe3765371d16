package subledger

import "time"

// reconcile applies one normalized billing event to the existing record
// (nil when the user has never been seen) and returns the record to store.
//
// The transition table:
//
//	subscription_created, order_created   -> Active, credits reset to grant
//	subscription_updated, payment_success -> status from event; credits reset
//	                                         to grant on payment success or
//	                                         (re)activation; self-heals to a
//	                                         creation when no record exists
//	subscription_cancelled                -> Cancelled, credits untouched
//	subscription_expired                  -> Expired, credits untouched
//	subscription_payment_failed           -> PastDue, credits untouched,
//	                                         failure timestamp recorded
//
// Every credit mutation is a set to the grant value, never an increment,
// so at-least-once webhook delivery cannot double-grant.
func reconcile(existing *SubscriptionRecord, ev *BillingEvent, now time.Time, grant int) (*SubscriptionRecord, error) {
	rec := existing.Clone()
	if rec == nil {
		userID, err := UserKey(ev.Email)
		if err != nil {
			return nil, err
		}
		rec = &SubscriptionRecord{
			UserID:    userID,
			Email:     NormalizeEmail(ev.Email),
			Status:    StatusNone,
			CreatedAt: now,
		}
	}

	switch ev.Type {
	case EventSubscriptionCreated, EventOrderCreated:
		rec.Status = StatusActive
		if st, ok := ParseStatus(ev.Status); ok {
			rec.Status = st
		}
		rec.Credits = grant
		if ev.SubscriptionID != "" {
			rec.SubscriptionID = ev.SubscriptionID
		}
		rec.RenewsAt = ev.RenewsAt
		rec.LastPaymentFailedAt = nil

	case EventSubscriptionUpdated, EventPaymentSuccess:
		if existing == nil {
			// Self-heal: the provider can deliver "updated" before the
			// application has observed "created". Treat it as a creation.
			return reconcile(nil, &BillingEvent{
				Type:           EventSubscriptionCreated,
				SubscriptionID: ev.SubscriptionID,
				Email:          ev.Email,
				Status:         ev.Status,
				RenewsAt:       ev.RenewsAt,
				CreatedAt:      ev.CreatedAt,
				RawAttributes:  ev.RawAttributes,
			}, now, grant)
		}
		wasActive := rec.Status.Active()
		if st, ok := ParseStatus(ev.Status); ok {
			rec.Status = st
		}
		if ev.Type == EventPaymentSuccess || (!wasActive && rec.Status.Active()) {
			// Successful renewal or re-activation re-arms the grant.
			rec.Credits = grant
			rec.LastPaymentFailedAt = nil
		}
		if ev.SubscriptionID != "" {
			rec.SubscriptionID = ev.SubscriptionID
		}
		if ev.RenewsAt != nil {
			rec.RenewsAt = ev.RenewsAt
		}

	case EventSubscriptionCancelled:
		// Credits already granted remain usable until exhaustion.
		rec.Status = StatusCancelled

	case EventSubscriptionExpired:
		rec.Status = StatusExpired

	case EventPaymentFailed:
		rec.Status = StatusPastDue
		t := now
		rec.LastPaymentFailedAt = &t

	default:
		return nil, ErrInvalidEvent
	}

	rec.LastEventType = ev.Type
	if ev.RawAttributes != nil {
		rec.RawAttributes = ev.RawAttributes
	}
	rec.LastUpdated = now
	return rec, nil
}
