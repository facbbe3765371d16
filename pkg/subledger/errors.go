package subledger

import "errors"

var (
	// ErrRecordNotFound is returned when a user has no subscription record
	ErrRecordNotFound = errors.New("subscription record not found")

	// ErrMissingIdentity is returned when a mutating event carries no resolvable user email
	ErrMissingIdentity = errors.New("billing event has no user identity")

	// ErrInvalidEvent is returned for a nil or structurally unusable event
	ErrInvalidEvent = errors.New("invalid billing event")

	// ErrNoCredits is returned when a credit consumption would go below zero
	ErrNoCredits = errors.New("no credits remaining")

	// ErrNoSubscription is returned when an operation requires an existing subscription
	ErrNoSubscription = errors.New("no active subscription")

	// ErrStorageUnavailable is returned when the backing store cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")
)
