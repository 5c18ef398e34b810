package postgres

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/payflow/internal/domain/outbox"
)

// fakeRow hands fixed column values to Scan in order
type fakeRow struct {
	values []any
}

func (r fakeRow) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r fakeRow) Values() ([]any, error)                       { return r.values, nil }
func (r fakeRow) RawValues() [][]byte                          { return nil }

func (r fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

func outboxRow(id uuid.UUID, payload string, lastError string) fakeRow {
	created := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	return fakeRow{values: []any{
		id, outbox.AggregatePayment, "ord_1", "payment.captured", []byte(payload), "pending",
		1, 5, lastError, created, (*time.Time)(nil),
	}}
}

func TestScanOutboxEntry(t *testing.T) {
	id := uuid.New()
	row := outboxRow(id, `{"orderId":"ord_1","merchantId":"m_1","status":"captured","processorReference":"pi_1"}`, "redis down")

	entry, err := scanOutboxEntry(row)
	require.NoError(t, err)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, outbox.StatusPending, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
	assert.Equal(t, "redis down", entry.LastError)
	assert.Nil(t, entry.PublishedAt)
	assert.Equal(t, outbox.PaymentEvent{
		OrderID:            "ord_1",
		MerchantID:         "m_1",
		Status:             "captured",
		ProcessorReference: "pi_1",
	}, entry.Event)
}

func TestScanOutboxEntry_UndecodablePayloadStaysInBatch(t *testing.T) {
	entry, err := scanOutboxEntry(outboxRow(uuid.New(), `{"merchantId":`, ""))
	require.NoError(t, err)
	assert.Empty(t, entry.MerchantID())
	assert.Contains(t, entry.LastError, "decode payment event")
}
