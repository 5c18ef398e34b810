package outbox

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores outbox entries. GetPending locks what it returns, so a
// relay fetches and marks entries inside one transaction.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
	GetPending(ctx context.Context, limit int) ([]*Entry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	// MarkFailed records why a relay failed and parks the entry once it runs out of retries
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}
