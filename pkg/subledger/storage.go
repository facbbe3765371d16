package subledger

import "context"

// Storage defines the interface for subscription record persistence.
// All methods use concrete types from this package to avoid import cycles.
type Storage interface {
	// GetRecord retrieves a user's subscription record.
	// Returns ErrRecordNotFound when the user has no record yet.
	GetRecord(ctx context.Context, userID string) (*SubscriptionRecord, error)

	// UpdateRecord atomically reads, transforms, and writes a record.
	//
	// The apply callback receives the existing record (nil when none exists)
	// and returns the full record to store. Implementations must run the
	// read-modify-write as a single transaction at record granularity, so
	// concurrent deliveries for the same user cannot interleave. An error
	// from the callback aborts the update with no write; the error is
	// returned unchanged so callers can match sentinel errors.
	UpdateRecord(ctx context.Context, userID string,
		apply func(existing *SubscriptionRecord) (*SubscriptionRecord, error)) (*SubscriptionRecord, error)
}
