package subledger

import (
	"errors"
	"testing"
)

func TestUserKey(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"simple", "a@x.com", "a-x.com"},
		{"uppercase", "A@X.COM", "a-x.com"},
		{"whitespace", "  bob@example.com  ", "bob-example.com"},
		{"plus tag", "bob+tag@example.com", "bob-tag-example.com"},
		{"dots and dashes kept", "first.last-two@sub.example.com", "first.last-two-sub.example.com"},
		{"unicode collapsed", "bøb@example.com", "b-b-example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserKey(tt.email)
			if err != nil {
				t.Fatalf("UserKey(%q) failed: %v", tt.email, err)
			}
			if got != tt.want {
				t.Errorf("UserKey(%q) = %q, want %q", tt.email, got, tt.want)
			}
		})
	}
}

func TestUserKeyDeterministic(t *testing.T) {
	a, err := UserKey("Same@Example.com")
	if err != nil {
		t.Fatal(err)
	}
	b, err := UserKey(" same@example.COM ")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("equivalent emails produced different keys: %q vs %q", a, b)
	}
}

func TestUserKeyRejectsMissingIdentity(t *testing.T) {
	for _, email := range []string{"", "   ", "no-at-sign"} {
		if _, err := UserKey(email); !errors.Is(err, ErrMissingIdentity) {
			t.Errorf("UserKey(%q): expected ErrMissingIdentity, got %v", email, err)
		}
	}
}

func TestParseEventType(t *testing.T) {
	if got := ParseEventType("subscription_created"); got != EventSubscriptionCreated {
		t.Errorf("expected subscription_created, got %q", got)
	}
	if got := ParseEventType("subscription_payment_success"); got != EventPaymentSuccess {
		t.Errorf("expected payment success, got %q", got)
	}
	if got := ParseEventType("totally_new_event"); got != EventUnknown {
		t.Errorf("unrecognized name must map to unknown, got %q", got)
	}
	if EventUnknown.Mutating() {
		t.Error("unknown events must not be mutating")
	}
	if !EventOrderCreated.Mutating() {
		t.Error("order_created must be mutating")
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   Status
		wantOK bool
	}{
		{"active", StatusActive, true},
		{"ACTIVE", StatusActive, true},
		{"on_trial", StatusTrialing, true},
		{"past_due", StatusPastDue, true},
		{"unpaid", StatusPastDue, true},
		{"cancelled", StatusCancelled, true},
		{"canceled", StatusCancelled, true},
		{"expired", StatusExpired, true},
		{"paused", StatusNone, false},
		{"", StatusNone, false},
	}
	for _, tt := range tests {
		got, ok := ParseStatus(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseStatus(%q) = (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}

	if !StatusTrialing.Active() {
		t.Error("on_trial should count as active access")
	}
	if StatusPastDue.Active() {
		t.Error("past_due should not count as active access")
	}
}
