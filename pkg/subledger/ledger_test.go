package subledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mihaimyh/subledger/pkg/subledger"
	"github.com/mihaimyh/subledger/storage/memory"
)

func newTestLedger(t *testing.T) *subledger.Ledger {
	t.Helper()
	ledger, err := subledger.New(memory.New(), nil)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	return ledger
}

func createdEvent(email, subID string) *subledger.BillingEvent {
	return &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionCreated,
		SubscriptionID: subID,
		Email:          email,
		Status:         "active",
	}
}

func TestNewRequiresStorage(t *testing.T) {
	if _, err := subledger.New(nil, nil); err == nil {
		t.Fatal("expected error for nil storage")
	}
}

func TestApplyEventSubscriptionCreated(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.ApplyEvent(ctx, createdEvent("A@X.com", "sub1"))
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}

	if rec.Status != subledger.StatusActive {
		t.Errorf("expected active, got %s", rec.Status)
	}
	if rec.Credits != subledger.DefaultGrantAmount {
		t.Errorf("expected %d credits, got %d", subledger.DefaultGrantAmount, rec.Credits)
	}
	if rec.SubscriptionID != "sub1" {
		t.Errorf("expected sub1, got %s", rec.SubscriptionID)
	}
	if rec.Email != "a@x.com" {
		t.Errorf("email not normalized: %s", rec.Email)
	}
}

func TestApplyEventReplayIsIdempotent(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	first, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub1"))
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	second, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub1"))
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if second.Credits != first.Credits {
		t.Errorf("replay changed credits: %d -> %d", first.Credits, second.Credits)
	}
	if second.Credits != 150 {
		t.Errorf("expected 150 after replay, got %d", second.Credits)
	}
	if second.Status != first.Status {
		t.Errorf("replay changed status: %s -> %s", first.Status, second.Status)
	}
}

func TestApplyEventUpdateSelfHeals(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	// "updated" arrives before any "created" was observed
	rec, err := ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionUpdated,
		SubscriptionID: "sub9",
		Email:          "late@x.com",
		Status:         "active",
	})
	if err != nil {
		t.Fatalf("self-heal failed: %v", err)
	}

	want, err := ledger.ApplyEvent(ctx, createdEvent("other@x.com", "sub9"))
	if err != nil {
		t.Fatalf("reference creation failed: %v", err)
	}

	if rec.Status != want.Status || rec.Credits != want.Credits || rec.SubscriptionID != want.SubscriptionID {
		t.Errorf("self-healed record differs from created record: %+v vs %+v", rec, want)
	}
}

func TestApplyEventUpdateDoesNotRegrantWhileActive(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub1")); err != nil {
		t.Fatal(err)
	}
	// burn some credits
	userID, _ := subledger.UserKey("a@x.com")
	for i := 0; i < 10; i++ {
		if _, err := ledger.ConsumeCredit(ctx, userID); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionUpdated,
		SubscriptionID: "sub1",
		Email:          "a@x.com",
		Status:         "active",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Credits != 140 {
		t.Errorf("active->active update must not regrant credits, got %d", rec.Credits)
	}
}

func TestApplyEventPaymentSuccessResetsCredits(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub1")); err != nil {
		t.Fatal(err)
	}
	userID, _ := subledger.UserKey("a@x.com")
	for i := 0; i < 30; i++ {
		if _, err := ledger.ConsumeCredit(ctx, userID); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           subledger.EventPaymentSuccess,
		SubscriptionID: "sub1",
		Email:          "a@x.com",
		Status:         "active",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Credits != 150 {
		t.Errorf("renewal must reset credits to grant, got %d", rec.Credits)
	}
}

func TestApplyEventCancellationKeepsCredits(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub1")); err != nil {
		t.Fatal(err)
	}

	rec, err := ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionCancelled,
		SubscriptionID: "sub1",
		Email:          "a@x.com",
		Status:         "cancelled",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != subledger.StatusCancelled {
		t.Errorf("expected cancelled, got %s", rec.Status)
	}
	if rec.Credits != 150 {
		t.Errorf("cancellation must not touch credits, got %d", rec.Credits)
	}
}

func TestApplyEventPaymentFailed(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub1")); err != nil {
		t.Fatal(err)
	}

	rec, err := ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           subledger.EventPaymentFailed,
		SubscriptionID: "sub1",
		Email:          "a@x.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != subledger.StatusPastDue {
		t.Errorf("expected past_due, got %s", rec.Status)
	}
	if rec.Credits != 150 {
		t.Errorf("payment failure must not touch credits, got %d", rec.Credits)
	}
	if rec.LastPaymentFailedAt == nil {
		t.Error("expected failure timestamp to be recorded")
	}
}

func TestApplyEventResubscribeReArmsCredits(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub1")); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:  subledger.EventSubscriptionCancelled,
		Email: "a@x.com", SubscriptionID: "sub1",
	}); err != nil {
		t.Fatal(err)
	}

	// Fresh subscription after cancellation gets a fresh grant and a new id
	rec, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub2"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != subledger.StatusActive || rec.Credits != 150 || rec.SubscriptionID != "sub2" {
		t.Errorf("resubscription did not re-arm record: %+v", rec)
	}
}

func TestApplyEventMissingIdentityRejected(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.ApplyEvent(context.Background(), &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionCreated,
		SubscriptionID: "sub1",
	})
	if !errors.Is(err, subledger.ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestApplyEventUnknownIsNoOp(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:  subledger.EventUnknown,
		Email: "a@x.com",
	})
	if err != nil {
		t.Fatalf("unknown event must not error: %v", err)
	}
	if rec != nil {
		t.Errorf("unknown event must not produce a record, got %+v", rec)
	}
	if _, err := ledger.SnapshotByEmail(ctx, "a@x.com"); !errors.Is(err, subledger.ErrRecordNotFound) {
		t.Errorf("unknown event must not touch the ledger, got %v", err)
	}
}

func TestApplyEventNil(t *testing.T) {
	ledger := newTestLedger(t)
	if _, err := ledger.ApplyEvent(context.Background(), nil); !errors.Is(err, subledger.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	renews := time.Now().UTC().AddDate(0, 1, 0)
	if _, err := ledger.ApplyEvent(ctx, &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionCreated,
		SubscriptionID: "sub1",
		Email:          "a@x.com",
		Status:         "active",
		RenewsAt:       &renews,
	}); err != nil {
		t.Fatal(err)
	}

	snap, err := ledger.SnapshotByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !snap.IsActive {
		t.Error("expected active snapshot")
	}
	if snap.Credits != 150 {
		t.Errorf("expected 150 credits, got %d", snap.Credits)
	}
	if snap.RenewsAt == nil || !snap.RenewsAt.Equal(renews) {
		t.Errorf("renews_at not carried: %v", snap.RenewsAt)
	}
}

func TestConsumeCredit(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.InitializeUser(ctx, "fresh@x.com"); err != nil {
		t.Fatal(err)
	}
	userID, _ := subledger.UserKey("fresh@x.com")

	for want := subledger.DefaultSignupCredits - 1; want >= 0; want-- {
		remaining, err := ledger.ConsumeCredit(ctx, userID)
		if err != nil {
			t.Fatalf("ConsumeCredit failed: %v", err)
		}
		if remaining != want {
			t.Errorf("expected %d remaining, got %d", want, remaining)
		}
	}

	if _, err := ledger.ConsumeCredit(ctx, userID); !errors.Is(err, subledger.ErrNoCredits) {
		t.Fatalf("expected ErrNoCredits at zero balance, got %v", err)
	}
}

func TestConsumeCreditUnknownUser(t *testing.T) {
	ledger := newTestLedger(t)
	if _, err := ledger.ConsumeCredit(context.Background(), "nobody"); !errors.Is(err, subledger.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestInitializeUserIdempotent(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub1")); err != nil {
		t.Fatal(err)
	}

	rec, err := ledger.InitializeUser(ctx, "a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Credits != 150 || rec.Status != subledger.StatusActive {
		t.Errorf("InitializeUser clobbered an existing record: %+v", rec)
	}
}

func TestCancelSubscription(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.ApplyEvent(ctx, createdEvent("a@x.com", "sub1")); err != nil {
		t.Fatal(err)
	}
	userID, _ := subledger.UserKey("a@x.com")

	if err := ledger.CancelSubscription(ctx, userID); err != nil {
		t.Fatalf("CancelSubscription failed: %v", err)
	}

	snap, err := ledger.Snapshot(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != subledger.StatusCancelled {
		t.Errorf("expected cancelled, got %s", snap.Status)
	}
	if snap.Credits != 150 {
		t.Errorf("cancel must keep credits, got %d", snap.Credits)
	}
}

func TestCancelSubscriptionWithoutOne(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.CancelSubscription(ctx, "nobody"); !errors.Is(err, subledger.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	if _, err := ledger.InitializeUser(ctx, "free@x.com"); err != nil {
		t.Fatal(err)
	}
	userID, _ := subledger.UserKey("free@x.com")
	if err := ledger.CancelSubscription(ctx, userID); !errors.Is(err, subledger.ErrNoSubscription) {
		t.Fatalf("expected ErrNoSubscription, got %v", err)
	}
}

func TestConcurrentEventsSameUser(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := createdEvent("race@x.com", "sub1")
			if i%2 == 1 {
				ev = &subledger.BillingEvent{
					Type:           subledger.EventSubscriptionUpdated,
					SubscriptionID: "sub1",
					Email:          "race@x.com",
					Status:         "active",
				}
			}
			if _, err := ledger.ApplyEvent(ctx, ev); err != nil {
				t.Errorf("ApplyEvent failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	snap, err := ledger.SnapshotByEmail(ctx, "race@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Credits != 150 {
		t.Errorf("concurrent redelivery must converge on the grant value, got %d", snap.Credits)
	}
	if snap.Status != subledger.StatusActive {
		t.Errorf("expected active, got %s", snap.Status)
	}
}

func TestCustomGrantAmount(t *testing.T) {
	ledger, err := subledger.New(memory.New(), &subledger.Config{GrantAmount: 500})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := ledger.ApplyEvent(context.Background(), createdEvent("a@x.com", "sub1"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Credits != 500 {
		t.Errorf("expected 500 credits, got %d", rec.Credits)
	}
}
