// Package subledger reconciles asynchronous billing events onto durable
// per-user subscription and credit records.
//
// The Ledger is the only writer of SubscriptionRecords. Billing providers
// feed it normalized BillingEvents; the rest of the application reads
// Snapshots to gate feature access.
package subledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultGrantAmount is the credit balance set on each successful
	// subscription creation or renewal.
	DefaultGrantAmount = 150

	// DefaultSignupCredits is the free balance for users with no billing
	// activity yet.
	DefaultSignupCredits = 3
)

// Ledger owns subscription record storage and applies the reconciliation
// state machine. Construct one explicitly at startup and share it between
// the webhook providers (write side) and the query facade (read side).
type Ledger struct {
	storage       Storage
	grantAmount   int
	signupCredits int
	logger        Logger
	metrics       Metrics
	now           func() time.Time
}

// New creates a Ledger with the given storage backend.
// Config may be nil, in which case all defaults apply.
func New(storage Storage, config *Config) (*Ledger, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if config == nil {
		config = &Config{}
	}

	grant := config.GrantAmount
	if grant <= 0 {
		grant = DefaultGrantAmount
	}
	signup := config.SignupCredits
	if signup < 0 {
		signup = 0
	} else if signup == 0 {
		signup = DefaultSignupCredits
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Ledger{
		storage:       storage,
		grantAmount:   grant,
		signupCredits: signup,
		logger:        logger,
		metrics:       metrics,
		now:           now,
	}, nil
}

// GrantAmount returns the configured credit grant value.
func (l *Ledger) GrantAmount() int {
	return l.grantAmount
}

// ApplyEvent runs the reconciliation state machine for one billing event.
//
// Mutating events without a resolvable email return ErrMissingIdentity and
// touch nothing. Unknown events are logged and return (nil, nil). Storage
// failures propagate unchanged so the HTTP layer can answer 5xx and let the
// provider retry; the transition table is idempotent under redelivery.
func (l *Ledger) ApplyEvent(ctx context.Context, ev *BillingEvent) (*SubscriptionRecord, error) {
	if ev == nil {
		return nil, ErrInvalidEvent
	}
	if ev.Type == EventUnknown {
		l.logger.Info("ignoring unknown billing event", Field{Key: "email", Value: NormalizeEmail(ev.Email)})
		l.metrics.RecordEventApplied(string(EventUnknown), "ignored")
		return nil, nil
	}

	userID, err := UserKey(ev.Email)
	if err != nil {
		l.metrics.RecordEventApplied(string(ev.Type), "rejected")
		return nil, err
	}

	start := l.now()
	rec, err := l.storage.UpdateRecord(ctx, userID, func(existing *SubscriptionRecord) (*SubscriptionRecord, error) {
		return reconcile(existing, ev, l.now().UTC(), l.grantAmount)
	})
	l.metrics.RecordStorageOperation("update_record", l.now().Sub(start), err)
	if err != nil {
		l.metrics.RecordEventApplied(string(ev.Type), "error")
		return nil, err
	}

	if ev.Type == EventSubscriptionCreated || ev.Type == EventOrderCreated ||
		ev.Type == EventPaymentSuccess || ev.Type == EventSubscriptionUpdated {
		l.metrics.RecordCreditGrant(rec.Credits)
	}
	l.metrics.RecordEventApplied(string(ev.Type), "applied")
	l.logger.Info("billing event applied",
		Field{Key: "user_id", Value: userID},
		Field{Key: "event", Value: string(ev.Type)},
		Field{Key: "status", Value: string(rec.Status)},
		Field{Key: "credits", Value: rec.Credits})
	return rec, nil
}

// Snapshot returns the read-side view for a user.
// Pure read; returns ErrRecordNotFound when the user has no billing history.
func (l *Ledger) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	start := l.now()
	rec, err := l.storage.GetRecord(ctx, userID)
	l.metrics.RecordStorageOperation("get_record", l.now().Sub(start), err)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		UserID:   rec.UserID,
		Status:   rec.Status,
		Credits:  rec.Credits,
		IsActive: rec.Status.Active(),
		RenewsAt: rec.RenewsAt,
	}, nil
}

// SnapshotByEmail is Snapshot keyed by raw email instead of derived ID.
func (l *Ledger) SnapshotByEmail(ctx context.Context, email string) (*Snapshot, error) {
	userID, err := UserKey(email)
	if err != nil {
		return nil, err
	}
	return l.Snapshot(ctx, userID)
}

// InitializeUser lazily creates a record with the signup credit balance.
// Idempotent: an existing record is returned untouched, whatever its state.
func (l *Ledger) InitializeUser(ctx context.Context, email string) (*SubscriptionRecord, error) {
	userID, err := UserKey(email)
	if err != nil {
		return nil, err
	}
	return l.storage.UpdateRecord(ctx, userID, func(existing *SubscriptionRecord) (*SubscriptionRecord, error) {
		if existing != nil {
			return existing, nil
		}
		now := l.now().UTC()
		return &SubscriptionRecord{
			UserID:      userID,
			Email:       NormalizeEmail(email),
			Status:      StatusNone,
			Credits:     l.signupCredits,
			CreatedAt:   now,
			LastUpdated: now,
		}, nil
	})
}

// ConsumeCredit atomically spends one credit and returns the remaining
// balance. Returns ErrNoCredits when the balance is zero (no write) and
// ErrRecordNotFound when the user has no record.
func (l *Ledger) ConsumeCredit(ctx context.Context, userID string) (int, error) {
	rec, err := l.storage.UpdateRecord(ctx, userID, func(existing *SubscriptionRecord) (*SubscriptionRecord, error) {
		if existing == nil {
			return nil, ErrRecordNotFound
		}
		if existing.Credits <= 0 {
			return nil, ErrNoCredits
		}
		updated := existing.Clone()
		updated.Credits--
		updated.LastUpdated = l.now().UTC()
		return updated, nil
	})
	success := err == nil
	l.metrics.RecordCreditConsumption(success)
	if err != nil {
		return 0, err
	}
	return rec.Credits, nil
}

// CancelSubscription marks a user's subscription cancelled without touching
// credits. Used by the account screen; webhook-driven cancellation goes
// through ApplyEvent.
func (l *Ledger) CancelSubscription(ctx context.Context, userID string) error {
	_, err := l.storage.UpdateRecord(ctx, userID, func(existing *SubscriptionRecord) (*SubscriptionRecord, error) {
		if existing == nil {
			return nil, ErrRecordNotFound
		}
		if existing.SubscriptionID == "" {
			return nil, ErrNoSubscription
		}
		updated := existing.Clone()
		updated.Status = StatusCancelled
		updated.LastUpdated = l.now().UTC()
		return updated, nil
	})
	if err != nil && !errors.Is(err, ErrRecordNotFound) && !errors.Is(err, ErrNoSubscription) {
		l.logger.Error("cancel subscription failed",
			Field{Key: "user_id", Value: userID},
			Field{Key: "error", Value: err.Error()})
	}
	return err
}
