// Package internal holds HTTP helpers shared by the provider packages.
package internal

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
)

// ErrPayloadTooLarge is returned when the request body exceeds the size limit
var ErrPayloadTooLarge = errors.New("payload too large")

// ErrEmptyBody is returned when a webhook delivery arrives with no body
var ErrEmptyBody = errors.New("empty request body")

// ReadBodyStrict reads the full request body, capped at limit bytes.
// The raw bytes are needed as-is for signature verification, so the body is
// buffered here rather than streamed into a decoder. An empty body is
// rejected: providers never deliver signed events without a payload.
func ReadBodyStrict(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("[WEBHOOK] body_close=failed error=%v", err)
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrPayloadTooLarge
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}
