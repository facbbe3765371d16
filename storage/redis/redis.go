// Package redis provides a Redis implementation of the subledger.Storage
// interface. Records are stored as JSON documents; updates use WATCH-based
// optimistic transactions with bounded retries so concurrent webhook
// deliveries cannot lose writes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// Storage implements subledger.Storage using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subledger:")
	KeyPrefix string

	// RecordTTL is the TTL for record keys (0 = no expiration).
	// The ledger is the system of record, so the default is no expiration.
	RecordTTL time.Duration

	// MaxRetries is the maximum number of optimistic-lock retry attempts (default: 5)
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "subledger:",
		RecordTTL:  0,
		MaxRetries: 5,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "subledger:"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}

	return &Storage{client: client, config: config}, nil
}

// storedRecord is the JSON wire form of a SubscriptionRecord
type storedRecord struct {
	Email               string                 `json:"email"`
	SubscriptionID      string                 `json:"subscription_id"`
	Status              string                 `json:"status"`
	Credits             int                    `json:"credits"`
	RenewsAt            *time.Time             `json:"renews_at,omitempty"`
	LastPaymentFailedAt *time.Time             `json:"last_payment_failed_at,omitempty"`
	LastEventType       string                 `json:"last_event_type,omitempty"`
	RawAttributes       map[string]interface{} `json:"raw_attributes,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	LastUpdated         time.Time              `json:"last_updated"`
}

func (s *Storage) recordKey(userID string) string {
	return s.config.KeyPrefix + "record:" + userID
}

// GetRecord implements subledger.Storage
func (s *Storage) GetRecord(ctx context.Context, userID string) (*subledger.SubscriptionRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, subledger.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return decodeRecord(userID, data)
}

// UpdateRecord implements subledger.Storage. The key is WATCHed for the
// duration of the read-modify-write; on contention the transaction aborts
// and the whole cycle retries with a fresh read.
func (s *Storage) UpdateRecord(ctx context.Context, userID string,
	apply func(existing *subledger.SubscriptionRecord) (*subledger.SubscriptionRecord, error),
) (*subledger.SubscriptionRecord, error) {
	key := s.recordKey(userID)

	var result *subledger.SubscriptionRecord
	txn := func(tx *redis.Tx) error {
		var existing *subledger.SubscriptionRecord
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to get record: %w", err)
		}
		if err == nil {
			if existing, err = decodeRecord(userID, data); err != nil {
				return err
			}
		}

		updated, err := apply(existing)
		if err != nil {
			return err
		}
		if updated == nil {
			return subledger.ErrInvalidEvent
		}
		updated.UserID = userID

		encoded, err := json.Marshal(&storedRecord{
			Email:               updated.Email,
			SubscriptionID:      updated.SubscriptionID,
			Status:              string(updated.Status),
			Credits:             updated.Credits,
			RenewsAt:            updated.RenewsAt,
			LastPaymentFailedAt: updated.LastPaymentFailedAt,
			LastEventType:       string(updated.LastEventType),
			RawAttributes:       updated.RawAttributes,
			CreatedAt:           updated.CreatedAt,
			LastUpdated:         updated.LastUpdated,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.config.RecordTTL)
			return nil
		})
		if err != nil {
			return err
		}

		result = updated.Clone()
		return nil
	}

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w: update conflict after %d attempts",
		subledger.ErrStorageUnavailable, s.config.MaxRetries)
}

func decodeRecord(userID string, data []byte) (*subledger.SubscriptionRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &subledger.SubscriptionRecord{
		UserID:              userID,
		Email:               stored.Email,
		SubscriptionID:      stored.SubscriptionID,
		Status:              subledger.Status(stored.Status),
		Credits:             stored.Credits,
		RenewsAt:            stored.RenewsAt,
		LastPaymentFailedAt: stored.LastPaymentFailedAt,
		LastEventType:       subledger.EventType(stored.LastEventType),
		RawAttributes:       stored.RawAttributes,
		CreatedAt:           stored.CreatedAt,
		LastUpdated:         stored.LastUpdated,
	}, nil
}
