package subledger

import "time"

// Metrics defines the interface for tracking ledger operations.
type Metrics interface {
	// RecordEventApplied records the outcome of one billing event.
	// status: "applied", "ignored", "rejected" or "error"
	RecordEventApplied(eventType, status string)

	// RecordCreditGrant records the balance set by a grant or reset.
	RecordCreditGrant(amount int)

	// RecordCreditConsumption records a credit spend attempt.
	RecordCreditConsumption(success bool)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordEventApplied(eventType, status string)                         {}
func (n *NoopMetrics) RecordCreditGrant(amount int)                                        {}
func (n *NoopMetrics) RecordCreditConsumption(success bool)                                {}
func (n *NoopMetrics) RecordStorageOperation(operation string, d time.Duration, err error) {}
