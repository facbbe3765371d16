// Package postgres provides a PostgreSQL implementation of the
// subledger.Storage interface. Updates run in SQL transactions with
// SELECT FOR UPDATE so concurrent webhook deliveries serialize per user.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/subledger/pkg/subledger"
)

// Storage implements subledger.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the subscription_records table if it does not exist
func (s *Storage) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscription_records (
			user_id                TEXT PRIMARY KEY,
			email                  TEXT NOT NULL,
			subscription_id        TEXT NOT NULL DEFAULT '',
			status                 TEXT NOT NULL,
			credits                INTEGER NOT NULL DEFAULT 0,
			renews_at              TIMESTAMPTZ,
			last_payment_failed_at TIMESTAMPTZ,
			last_event_type        TEXT NOT NULL DEFAULT '',
			raw_attributes         JSONB,
			created_at             TIMESTAMPTZ NOT NULL,
			last_updated           TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetRecord implements subledger.Storage
func (s *Storage) GetRecord(ctx context.Context, userID string) (*subledger.SubscriptionRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT user_id, email, subscription_id, status, credits, renews_at,
			last_payment_failed_at, last_event_type, raw_attributes, created_at, last_updated
			FROM subscription_records WHERE user_id = $1`,
		userID))
	if err == pgx.ErrNoRows {
		return nil, subledger.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// UpdateRecord implements subledger.Storage
func (s *Storage) UpdateRecord(ctx context.Context, userID string,
	apply func(existing *subledger.SubscriptionRecord) (*subledger.SubscriptionRecord, error),
) (*subledger.SubscriptionRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	var existing *subledger.SubscriptionRecord
	rec, err := scanRecord(tx.QueryRow(ctx,
		`SELECT user_id, email, subscription_id, status, credits, renews_at,
			last_payment_failed_at, last_event_type, raw_attributes, created_at, last_updated
			FROM subscription_records WHERE user_id = $1
			FOR UPDATE`,
		userID))
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to lock record: %w", err)
	}
	if err == nil {
		existing = rec
	}

	updated, err := apply(existing)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, subledger.ErrInvalidEvent
	}
	updated.UserID = userID

	var rawJSON []byte
	if updated.RawAttributes != nil {
		if rawJSON, err = json.Marshal(updated.RawAttributes); err != nil {
			return nil, fmt.Errorf("failed to marshal attributes: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO subscription_records (user_id, email, subscription_id, status, credits,
			renews_at, last_payment_failed_at, last_event_type, raw_attributes, created_at, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (user_id) DO UPDATE SET
				email = EXCLUDED.email,
				subscription_id = EXCLUDED.subscription_id,
				status = EXCLUDED.status,
				credits = EXCLUDED.credits,
				renews_at = EXCLUDED.renews_at,
				last_payment_failed_at = EXCLUDED.last_payment_failed_at,
				last_event_type = EXCLUDED.last_event_type,
				raw_attributes = EXCLUDED.raw_attributes,
				last_updated = EXCLUDED.last_updated`,
		updated.UserID, updated.Email, updated.SubscriptionID, string(updated.Status), updated.Credits,
		updated.RenewsAt, updated.LastPaymentFailedAt, string(updated.LastEventType), rawJSON,
		updated.CreatedAt, updated.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert record: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return updated.Clone(), nil
}

func scanRecord(row pgx.Row) (*subledger.SubscriptionRecord, error) {
	var rec subledger.SubscriptionRecord
	var status, eventType string
	var rawJSON []byte

	err := row.Scan(
		&rec.UserID,
		&rec.Email,
		&rec.SubscriptionID,
		&status,
		&rec.Credits,
		&rec.RenewsAt,
		&rec.LastPaymentFailedAt,
		&eventType,
		&rawJSON,
		&rec.CreatedAt,
		&rec.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = subledger.Status(status)
	rec.LastEventType = subledger.EventType(eventType)
	if len(rawJSON) > 0 {
		//nolint:errcheck // Attributes are audit data; a decode failure leaves them nil
		_ = json.Unmarshal(rawJSON, &rec.RawAttributes)
	}

	return &rec, nil
}
