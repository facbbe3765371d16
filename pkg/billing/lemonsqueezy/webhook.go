package lemonsqueezy

import (
	"errors"
	"net/http"
	"time"

	"github.com/mihaimyh/subledger/pkg/billing"
	"github.com/mihaimyh/subledger/pkg/billing/internal"
	"github.com/mihaimyh/subledger/pkg/subledger"
)

// webhookResponse is the body returned for accepted deliveries
type webhookResponse struct {
	Received bool   `json:"received"`
	Event    string `json:"event,omitempty"`
	Email    string `json:"email,omitempty"`
}

// handleWebhook processes incoming Lemon Squeezy webhook events.
//
// Order matters: the signature is verified over the raw body before any JSON
// parsing, and verification/validation failures never reach the ledger.
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

	sig := r.Header.Get(signatureHeader)
	if sig == "" {
		sig = r.Header.Get("x-signature")
	}
	// Missing secret and missing/forged signatures take the same rejection
	// path; nothing about the secret is leaked to the caller or the logs.
	if !VerifySignature(body, sig, p.secret) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	ev, err := normalizeEvent(body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	eventName := string(ev.Type)
	if eventName == "" {
		eventName = "unknown"
	}

	if _, err := p.ledger.ApplyEvent(r.Context(), ev); err != nil {
		if errors.Is(err, subledger.ErrMissingIdentity) || errors.Is(err, subledger.ErrInvalidEvent) {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			return
		}
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventName, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventName, time.Since(startTime))
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, webhookResponse{
		Received: true,
		Event:    string(ev.Type),
		Email:    subledger.NormalizeEmail(ev.Email),
	})

	p.metrics.RecordWebhookEvent(providerName, eventName, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventName, time.Since(startTime))
}

var _ billing.Provider = (*Provider)(nil)

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
