package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries is how many failed relays an entry survives before it is parked
const DefaultMaxRetries = 5

// AggregatePayment is the aggregate type of order status events
const AggregatePayment = "payment"

// PaymentEventType returns the event type announcing an order status, e.g. payment.captured
func PaymentEventType(status string) string {
	return AggregatePayment + "." + status
}

// PaymentEvent is the body of an order status notification. It is stored as
// the entry payload and sent to the merchant unchanged as the envelope data.
type PaymentEvent struct {
	OrderID                       string `json:"orderId"`
	MerchantID                    string `json:"merchantId"`
	Status                        string `json:"status"`
	ProcessorReference            string `json:"processorReference,omitempty"`
	ProcessorTransactionReference string `json:"processorTransactionReference,omitempty"`
	ErrorCode                     string `json:"errorCode,omitempty"`
}

// Entry is an event written in the same transaction as the order status change it announces
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Event         PaymentEvent
	Status        Status
	RetryCount    int
	MaxRetries    int
	// LastError is why the most recent relay of this entry failed
	LastError   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// NewPaymentEntry announces ev. The aggregate is the order and the event type follows its status.
func NewPaymentEntry(ev PaymentEvent) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: AggregatePayment,
		AggregateID:   ev.OrderID,
		EventType:     PaymentEventType(ev.Status),
		Event:         ev,
		Status:        StatusPending,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     time.Now(),
	}
}

// MerchantID is the merchant the event is delivered to, empty when the event names none
func (e *Entry) MerchantID() string {
	return e.Event.MerchantID
}

// EncodePayload is the JSONB column value for the entry's event
func (e *Entry) EncodePayload() ([]byte, error) {
	if e.AggregateType != AggregatePayment {
		return nil, fmt.Errorf("outbox entry %s: unsupported aggregate %q", e.ID, e.AggregateType)
	}
	return json.Marshal(e.Event)
}

// DecodePayload restores the entry's event from a stored payload
func (e *Entry) DecodePayload(payload []byte) error {
	if e.AggregateType != AggregatePayment {
		return fmt.Errorf("outbox entry %s: unsupported aggregate %q", e.ID, e.AggregateType)
	}
	if err := json.Unmarshal(payload, &e.Event); err != nil {
		return fmt.Errorf("outbox entry %s: decode payment event: %w", e.ID, err)
	}
	return nil
}

// Envelope is the JSON body merchants receive for an outbox event.
// ID doubles as the webhook event ID, so relaying an entry twice delivers once.
type Envelope struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	CreatedAt string       `json:"createdAt"`
	Data      PaymentEvent `json:"data"`
}

func (e *Entry) Envelope() Envelope {
	return Envelope{
		ID:        e.ID.String(),
		Type:      e.EventType,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		Data:      e.Event,
	}
}
