package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
)

// WebhookAttemptRepository implements webhook.AttemptRepository
type WebhookAttemptRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewWebhookAttemptRepository(pool *pgxpool.Pool) *WebhookAttemptRepository {
	return &WebhookAttemptRepository{pool: pool, now: time.Now}
}

func (r *WebhookAttemptRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *WebhookAttemptRepository) Create(ctx context.Context, rec *webhook.AttemptRecord) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_attempts (event_id, merchant_id, url, payload, attempt_count, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.MerchantID, rec.URL, []byte(rec.Payload), rec.AttemptCount, string(rec.Status),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook attempt: %w", err)
	}
	return nil
}

func (r *WebhookAttemptRepository) Get(ctx context.Context, eventID string) (*webhook.AttemptRecord, error) {
	rec := &webhook.AttemptRecord{}
	var (
		status    string
		payload   []byte
		lastError *string
	)
	err := r.db(ctx).QueryRow(ctx,
		`SELECT event_id, merchant_id, url, payload, attempt_count, status, last_attempt_at, next_retry_at,
		        delivered_at, last_status_code, last_error, created_at, updated_at
		 FROM webhook_attempts WHERE event_id = $1`, eventID,
	).Scan(&rec.EventID, &rec.MerchantID, &rec.URL, &payload, &rec.AttemptCount, &status, &rec.LastAttemptAt,
		&rec.NextRetryAt, &rec.DeliveredAt, &rec.LastStatusCode, &lastError, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get webhook attempt: %w", err)
	}
	rec.Status = webhook.Status(status)
	rec.Payload = payload
	rec.LastError = deref(lastError)
	return rec, nil
}

func (r *WebhookAttemptRepository) AttemptCount(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT attempt_count FROM webhook_attempts WHERE event_id = $1`, eventID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get attempt count: %w", err)
	}
	return count, nil
}

// RecordAttempt upserts the attempt outcome. The stored count never moves backwards.
func (r *WebhookAttemptRepository) RecordAttempt(ctx context.Context, u webhook.AttemptUpdate) error {
	if err := u.Status.Validate(); err != nil {
		return err
	}
	now := r.now()
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_attempts (event_id, url, payload, attempt_count, status, last_attempt_at, next_retry_at,
		                               delivered_at, last_status_code, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $11)
		 ON CONFLICT (event_id) DO UPDATE SET
		   url = EXCLUDED.url,
		   attempt_count = GREATEST(webhook_attempts.attempt_count, EXCLUDED.attempt_count),
		   status = EXCLUDED.status,
		   last_attempt_at = EXCLUDED.last_attempt_at,
		   next_retry_at = EXCLUDED.next_retry_at,
		   delivered_at = COALESCE(EXCLUDED.delivered_at, webhook_attempts.delivered_at),
		   last_status_code = EXCLUDED.last_status_code,
		   last_error = EXCLUDED.last_error,
		   updated_at = EXCLUDED.updated_at`,
		u.EventID, u.URL, []byte(u.Payload), u.AttemptCount, string(u.Status), u.LastAttemptAt, u.NextRetryAt,
		u.DeliveredAt, u.StatusCode, u.Error, now,
	)
	if err != nil {
		return fmt.Errorf("record webhook attempt: %w", err)
	}
	return nil
}

func (r *WebhookAttemptRepository) MarkFailed(ctx context.Context, eventID, reason string) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_attempts
		 SET status = 'failed', next_retry_at = NULL, last_error = COALESCE(NULLIF($2, ''), last_error), updated_at = $3
		 WHERE event_id = $1 AND status <> 'delivered'`,
		eventID, reason, r.now(),
	)
	if err != nil {
		return fmt.Errorf("mark webhook failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Nothing recorded yet, e.g. the URL was rejected before the first attempt.
		_, err = r.db(ctx).Exec(ctx,
			`INSERT INTO webhook_attempts (event_id, url, payload, status, last_error, created_at, updated_at)
			 VALUES ($1, '', '{}'::jsonb, 'failed', NULLIF($2, ''), $3, $3)
			 ON CONFLICT (event_id) DO NOTHING`,
			eventID, reason, r.now(),
		)
		if err != nil {
			return fmt.Errorf("mark webhook failed: %w", err)
		}
	}
	return nil
}
