package webhook

import (
	"context"
)

// AttemptStore is the attempt bookkeeping used by the delivery engine
type AttemptStore interface {
	// AttemptCount returns the attempts already made for eventID, 0 if none
	AttemptCount(ctx context.Context, eventID string) (int, error)

	// RecordAttempt persists the result of one attempt, creating the record if needed
	RecordAttempt(ctx context.Context, update AttemptUpdate) error

	// MarkFailed moves the record to failed and clears any scheduled retry
	MarkFailed(ctx context.Context, eventID, reason string) error
}

// AttemptRepository adds creation and reads for the API and enqueue path
type AttemptRepository interface {
	AttemptStore

	// Create inserts a pending record. An existing record for the event is left untouched.
	Create(ctx context.Context, rec *AttemptRecord) error

	// Get returns ErrAttemptNotFound when the event is unknown
	Get(ctx context.Context, eventID string) (*AttemptRecord, error)
}

// DestinationResolver looks up a merchant's webhook endpoint and signing secret.
// Missing fields are returned empty, not as errors.
type DestinationResolver interface {
	ResolveWebhookDestination(ctx context.Context, merchantID string) (Destination, error)
}
