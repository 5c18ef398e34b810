package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/outbox"
	"github.com/cassiomorais/payflow/internal/domain/payment"
)

// OrderRepository implements payment.OrderRepository. Notifying status changes
// are announced through the outbox in the same transaction.
type OrderRepository struct {
	pool   *pgxpool.Pool
	tx     *TxManager
	outbox *OutboxRepository
	now    func() time.Time
}

func NewOrderRepository(pool *pgxpool.Pool, tx *TxManager, outboxRepo *OutboxRepository) *OrderRepository {
	return &OrderRepository{pool: pool, tx: tx, outbox: outboxRepo, now: time.Now}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// orderStatusEvent builds the outbox entry announcing an order status change
func orderStatusEvent(u payment.OrderStatusUpdate) *outbox.Entry {
	return outbox.NewPaymentEntry(outbox.PaymentEvent{
		OrderID:                       u.OrderID,
		MerchantID:                    u.MerchantID,
		Status:                        string(u.Status),
		ProcessorReference:            u.ProcessorReference,
		ProcessorTransactionReference: u.ProcessorTransactionReference,
		ErrorCode:                     u.ErrorCode,
	})
}

// PersistOrderStatus upserts the order. Empty references never overwrite stored ones.
func (r *OrderRepository) PersistOrderStatus(ctx context.Context, u payment.OrderStatusUpdate) error {
	return r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		now := r.now()
		_, err := r.db(txCtx).Exec(txCtx,
			`INSERT INTO orders (id, merchant_id, status, processor_reference, processor_transaction_reference, error_code, created_at, updated_at)
			 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   status = EXCLUDED.status,
			   processor_reference = COALESCE(EXCLUDED.processor_reference, orders.processor_reference),
			   processor_transaction_reference = COALESCE(EXCLUDED.processor_transaction_reference, orders.processor_transaction_reference),
			   error_code = EXCLUDED.error_code,
			   updated_at = EXCLUDED.updated_at`,
			u.OrderID, u.MerchantID, string(u.Status), u.ProcessorReference, u.ProcessorTransactionReference, u.ErrorCode, now,
		)
		if err != nil {
			return fmt.Errorf("upsert order %s: %w", u.OrderID, err)
		}

		if !u.Status.ShouldNotify() || u.MerchantID == "" {
			return nil
		}
		return r.outbox.Insert(txCtx, orderStatusEvent(u))
	})
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID string) (*payment.Order, error) {
	o := &payment.Order{}
	var status string
	var ref, txnRef, code *string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, merchant_id, status, processor_reference, processor_transaction_reference, error_code, created_at, updated_at
		 FROM orders WHERE id = $1`, orderID,
	).Scan(&o.ID, &o.MerchantID, &status, &ref, &txnRef, &code, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = payment.OrderStatus(status)
	o.ProcessorReference = deref(ref)
	o.ProcessorTransactionReference = deref(txnRef)
	o.ErrorCode = deref(code)
	return o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
