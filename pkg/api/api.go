// Package api exposes the read side of the ledger over HTTP: a single
// endpoint that returns the caller's subscription snapshot. Writes only ever
// arrive through billing webhooks, never through this surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// Config holds the snapshot handler configuration
type Config struct {
	// Ledger is the subscription ledger to read from (required)
	Ledger *subledger.Ledger

	// GetUserID extracts the authenticated user's ledger key from the
	// request (required). Return "" for unauthenticated requests.
	GetUserID func(r *http.Request) string

	// Logger is used for structured logging (default: NoopLogger)
	Logger subledger.Logger
}

// Handler serves GET requests with the user's subscription snapshot
type Handler struct {
	ledger    *subledger.Ledger
	getUserID func(r *http.Request) string
	logger    subledger.Logger
}

// NewHandler creates a snapshot handler
func NewHandler(config Config) (*Handler, error) {
	if config.Ledger == nil {
		return nil, errors.New("api: Ledger is required")
	}
	if config.GetUserID == nil {
		return nil, errors.New("api: GetUserID is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = &subledger.NoopLogger{}
	}

	return &Handler{
		ledger:    config.Ledger,
		getUserID: config.GetUserID,
		logger:    logger,
	}, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	userID := h.getUserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	snap, err := h.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		if errors.Is(err, subledger.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no subscription record"})
			return
		}
		h.logger.Error("snapshot read failed",
			subledger.Field{Key: "user_id", Value: userID},
			subledger.Field{Key: "error", Value: err.Error()},
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Nothing useful to do if the client went away
	_ = json.NewEncoder(w).Encode(body)
}
