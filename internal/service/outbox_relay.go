package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cassiomorais/payflow/internal/domain/outbox"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
)

// OutboxRecorder counts relayed outbox entries by result
type OutboxRecorder interface {
	OutboxPublish(result string)
}

type nopOutboxRecorder struct{}

func (nopOutboxRecorder) OutboxPublish(string) {}

// OutboxRelay turns pending outbox entries into webhook notifications on the
// webhook stream. The entry id is used as the notification's event id.
type OutboxRelay struct {
	outbox    outbox.Repository
	tx        TransactionManager
	publisher EventPublisher
	recorder  OutboxRecorder
	logger    zerolog.Logger
	batchSize int
}

type RelayOption func(*OutboxRelay)

func WithOutboxRecorder(r OutboxRecorder) RelayOption {
	return func(o *OutboxRelay) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(o *OutboxRelay) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func NewOutboxRelay(repo outbox.Repository, tx TransactionManager, publisher EventPublisher, logger zerolog.Logger, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		outbox:    repo,
		tx:        tx,
		publisher: publisher,
		recorder:  nopOutboxRecorder{},
		logger:    logger,
		batchSize: 10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessBatch relays one batch of pending entries and returns how many were published.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	var published int
	err := r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.outbox.GetPending(txCtx, r.batchSize)
		if err != nil {
			return fmt.Errorf("get pending outbox entries: %w", err)
		}

		for _, entry := range entries {
			n, err := notificationFromEntry(entry)
			if err == nil {
				err = r.publisher.PublishWebhookEvent(ctx, n.EventID, notificationData(n))
			}
			if err != nil {
				r.logger.Error().Err(err).Str("outbox_id", entry.ID.String()).Msg("Failed to publish outbox event")
				r.recorder.OutboxPublish("error")
				if markErr := r.outbox.MarkFailed(txCtx, entry.ID, err.Error()); markErr != nil {
					return fmt.Errorf("mark outbox entry %s failed: %w", entry.ID, markErr)
				}
				continue
			}

			if err := r.outbox.MarkPublished(txCtx, entry.ID); err != nil {
				return fmt.Errorf("mark outbox entry %s published: %w", entry.ID, err)
			}
			r.recorder.OutboxPublish("success")
			published++
		}
		return nil
	})
	return published, err
}

// notificationFromEntry wraps the entry payload in the envelope merchants receive
func notificationFromEntry(entry *outbox.Entry) (webhook.Notification, error) {
	merchantID := entry.MerchantID()
	if merchantID == "" {
		if entry.LastError != "" {
			return webhook.Notification{}, fmt.Errorf("outbox entry %s has no merchantId: %s", entry.ID, entry.LastError)
		}
		return webhook.Notification{}, fmt.Errorf("outbox entry %s has no merchantId", entry.ID)
	}
	body, err := json.Marshal(entry.Envelope())
	if err != nil {
		return webhook.Notification{}, fmt.Errorf("encode outbox entry %s: %w", entry.ID, err)
	}
	return webhook.Notification{
		EventID:    entry.ID.String(),
		MerchantID: merchantID,
		Payload:    body,
	}, nil
}
