// Package firestore provides a Firestore implementation of the
// subledger.Storage interface. Each user's subscription record lives in a
// single document; updates run inside a Firestore transaction so the
// read-modify-write contract holds across concurrent webhook deliveries.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// Storage implements subledger.Storage using Google Cloud Firestore
type Storage struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore storage configuration
type Config struct {
	// Collection is the Firestore collection for subscription records
	// Default: "subscription_records"
	Collection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.Collection == "" {
		config.Collection = "subscription_records"
	}

	return &Storage{
		client:     client,
		collection: config.Collection,
	}, nil
}

// GetRecord implements subledger.Storage
func (s *Storage) GetRecord(ctx context.Context, userID string) (*subledger.SubscriptionRecord, error) {
	doc := s.client.Collection(s.collection).Doc(userID)
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, subledger.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if !snap.Exists() {
		return nil, subledger.ErrRecordNotFound
	}

	return decodeRecord(userID, snap.Data()), nil
}

// UpdateRecord implements subledger.Storage. The apply callback runs inside a
// Firestore transaction; on contention the client library retries it, so the
// callback must be side-effect free.
func (s *Storage) UpdateRecord(ctx context.Context, userID string,
	apply func(existing *subledger.SubscriptionRecord) (*subledger.SubscriptionRecord, error),
) (*subledger.SubscriptionRecord, error) {
	doc := s.client.Collection(s.collection).Doc(userID)

	var result *subledger.SubscriptionRecord
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var existing *subledger.SubscriptionRecord
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to get record: %w", err)
		}
		if err == nil && snap.Exists() {
			existing = decodeRecord(userID, snap.Data())
		}

		updated, err := apply(existing)
		if err != nil {
			return err
		}
		if updated == nil {
			return subledger.ErrInvalidEvent
		}
		updated.UserID = userID

		if err := tx.Set(doc, encodeRecord(updated)); err != nil {
			return fmt.Errorf("failed to set record: %w", err)
		}

		result = updated.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func encodeRecord(rec *subledger.SubscriptionRecord) map[string]interface{} {
	data := map[string]interface{}{
		"email":          rec.Email,
		"subscriptionId": rec.SubscriptionID,
		"status":         string(rec.Status),
		"credits":        rec.Credits,
		"lastEventType":  string(rec.LastEventType),
		"createdAt":      rec.CreatedAt,
		"lastUpdated":    rec.LastUpdated,
	}
	if rec.RenewsAt != nil {
		data["renewsAt"] = *rec.RenewsAt
	}
	if rec.LastPaymentFailedAt != nil {
		data["lastPaymentFailedAt"] = *rec.LastPaymentFailedAt
	}
	if rec.RawAttributes != nil {
		data["rawAttributes"] = rec.RawAttributes
	}
	return data
}

func decodeRecord(userID string, data map[string]interface{}) *subledger.SubscriptionRecord {
	rec := &subledger.SubscriptionRecord{
		UserID:         userID,
		Email:          getString(data, "email"),
		SubscriptionID: getString(data, "subscriptionId"),
		Status:         subledger.Status(getString(data, "status")),
		Credits:        getInt(data, "credits"),
		LastEventType:  subledger.EventType(getString(data, "lastEventType")),
		CreatedAt:      getTime(data, "createdAt"),
		LastUpdated:    getTime(data, "lastUpdated"),
	}

	if v, ok := data["renewsAt"].(time.Time); ok && !v.IsZero() {
		rec.RenewsAt = &v
	}
	if v, ok := data["lastPaymentFailedAt"].(time.Time); ok && !v.IsZero() {
		rec.LastPaymentFailedAt = &v
	}
	if v, ok := data["rawAttributes"].(map[string]interface{}); ok {
		rec.RawAttributes = v
	}

	return rec
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
