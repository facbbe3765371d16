package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/mihaimyh/subledger/middleware/http"
	"github.com/mihaimyh/subledger/pkg/subledger"
	"github.com/mihaimyh/subledger/storage/memory"
)

func newLedger(t *testing.T) *subledger.Ledger {
	t.Helper()
	ledger, err := subledger.New(memory.New(), nil)
	require.NoError(t, err)
	return ledger
}

func subscribe(t *testing.T, ledger *subledger.Ledger, email string) string {
	t.Helper()
	rec, err := ledger.ApplyEvent(context.Background(), &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionCreated,
		SubscriptionID: "sub1",
		Email:          email,
		Status:         "active",
	})
	require.NoError(t, err)
	return rec.UserID
}

func userIDFromHeader(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func request(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestActiveSubscriberPasses(t *testing.T) {
	ledger := newLedger(t)
	userID := subscribe(t, ledger, "a@x.com")

	next, called := okHandler()
	handler := middleware.Middleware(middleware.Config{
		Ledger:    ledger,
		GetUserID: userIDFromHeader,
	})(next)

	rec := request(handler, userID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)
}

func TestUnauthenticatedGets401(t *testing.T) {
	ledger := newLedger(t)

	next, called := okHandler()
	handler := middleware.Middleware(middleware.Config{
		Ledger:    ledger,
		GetUserID: userIDFromHeader,
	})(next)

	rec := request(handler, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, *called)
}

func TestNoRecordGetsPaywalled(t *testing.T) {
	ledger := newLedger(t)

	next, called := okHandler()
	handler := middleware.Middleware(middleware.Config{
		Ledger:    ledger,
		GetUserID: userIDFromHeader,
	})(next)

	rec := request(handler, "ghost-x.com")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, *called)
}

func TestCancelledSubscriberGetsPaywalled(t *testing.T) {
	ledger := newLedger(t)
	userID := subscribe(t, ledger, "a@x.com")

	_, err := ledger.ApplyEvent(context.Background(), &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionCancelled,
		SubscriptionID: "sub1",
		Email:          "a@x.com",
		Status:         "cancelled",
	})
	require.NoError(t, err)

	var paywalledSnap *subledger.Snapshot
	next, called := okHandler()
	handler := middleware.Middleware(middleware.Config{
		Ledger:    ledger,
		GetUserID: userIDFromHeader,
		OnPaywall: func(w http.ResponseWriter, r *http.Request, snap *subledger.Snapshot) {
			paywalledSnap = snap
			http.Redirect(w, r, "/pricing", http.StatusFound)
		},
	})(next)

	rec := request(handler, userID)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.False(t, *called)
	require.NotNil(t, paywalledSnap)
	assert.Equal(t, subledger.StatusCancelled, paywalledSnap.Status)
}

func TestConsumeCreditSpendsBalance(t *testing.T) {
	ledger, err := subledger.New(memory.New(), &subledger.Config{GrantAmount: 2})
	require.NoError(t, err)
	userID := subscribe(t, ledger, "a@x.com")

	next, _ := okHandler()
	handler := middleware.Middleware(middleware.Config{
		Ledger:        ledger,
		GetUserID:     userIDFromHeader,
		ConsumeCredit: true,
	})(next)

	assert.Equal(t, http.StatusOK, request(handler, userID).Code)
	assert.Equal(t, http.StatusOK, request(handler, userID).Code)
	assert.Equal(t, http.StatusPaymentRequired, request(handler, userID).Code)

	snap, err := ledger.Snapshot(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Credits)
}

func TestConsumeCreditAfterCancellationStillSpends(t *testing.T) {
	ledger := newLedger(t)
	userID := subscribe(t, ledger, "a@x.com")

	_, err := ledger.ApplyEvent(context.Background(), &subledger.BillingEvent{
		Type:           subledger.EventSubscriptionCancelled,
		SubscriptionID: "sub1",
		Email:          "a@x.com",
		Status:         "cancelled",
	})
	require.NoError(t, err)

	next, called := okHandler()
	handler := middleware.Middleware(middleware.Config{
		Ledger:        ledger,
		GetUserID:     userIDFromHeader,
		ConsumeCredit: true,
	})(next)

	// Remaining credits survive cancellation and stay spendable
	rec := request(handler, userID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)
}

func TestHandlerFuncVariant(t *testing.T) {
	ledger := newLedger(t)
	userID := subscribe(t, ledger, "a@x.com")

	called := false
	wrapped := middleware.HandlerFunc(middleware.Config{
		Ledger:    ledger,
		GetUserID: userIDFromHeader,
	})(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	rec := request(wrapped, userID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}
