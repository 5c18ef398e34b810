package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cassiomorais/payflow/internal/domain/outbox"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, max_retries, COALESCE(last_error, ''), created_at, published_at`

// OutboxRepository stores payment event entries. The payload column holds the
// encoded outbox.PaymentEvent, which is exactly what the merchant receives.
type OutboxRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool, now: time.Now}
}

func (r *OutboxRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Insert runs on the caller's transaction so the event commits with the order status
func (r *OutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	payload, err := entry.EncodePayload()
	if err != nil {
		return err
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, max_retries, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.AggregateType, entry.AggregateID, entry.EventType, payload,
		string(entry.Status), entry.RetryCount, entry.MaxRetries, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s event for order %s: %w", entry.EventType, entry.AggregateID, err)
	}
	return nil
}

// GetPending returns the oldest pending entries, skipping rows another relay holds
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+outboxColumns+`
		 FROM outbox WHERE status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get pending outbox entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanOutboxEntry)
	if err != nil {
		return nil, fmt.Errorf("scan outbox entries: %w", err)
	}
	return entries, nil
}

// scanOutboxEntry keeps an undecodable entry in the batch with an empty event,
// so the relay fails it with a reason instead of the row blocking every batch.
func scanOutboxEntry(row pgx.CollectableRow) (*outbox.Entry, error) {
	e := &outbox.Entry{}
	var payload []byte
	var status string
	if err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload, &status,
		&e.RetryCount, &e.MaxRetries, &e.LastError, &e.CreatedAt, &e.PublishedAt); err != nil {
		return nil, err
	}
	e.Status = outbox.Status(status)
	if err := e.DecodePayload(payload); err != nil {
		e.Event = outbox.PaymentEvent{}
		e.LastError = err.Error()
	}
	return e, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = 'published', published_at = $1, last_error = NULL WHERE id = $2`, r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry %s published: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET retry_count = retry_count + 1, last_error = $2,
		        status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END
		 WHERE id = $1`, id, reason,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry %s failed: %w", id, err)
	}
	return nil
}
