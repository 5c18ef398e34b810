package webhook

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/cassiomorais/payflow/internal/domain/errors"
)

// MaxAttempts bounds the number of delivery attempts per event
const MaxAttempts = 5

// schedule is indexed by the 1-based attempt number that just failed
var schedule = [...]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	24 * time.Hour,
}

// Backoff returns the wait after the given failed attempt. Attempts past the
// schedule reuse its last entry; attempts below 1 use the first.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(schedule) {
		attempt = len(schedule)
	}
	return schedule[attempt-1]
}

// Status is the delivery state of an attempt record
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Validate checks if the status is valid
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed:
		return nil
	}
	return fmt.Errorf("invalid status: %s", s)
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Notification is a status change to announce to a merchant endpoint.
// URL overrides the merchant's configured destination when set.
type Notification struct {
	EventID    string          `json:"eventId"`
	MerchantID string          `json:"merchantId"`
	URL        string          `json:"url,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Destination is where and how a merchant receives notifications.
// An empty Secret means deliveries are unsigned.
type Destination struct {
	URL    string
	Secret string
}

// DeliveryRequest is the input of one delivery attempt
type DeliveryRequest struct {
	EventID string
	URL     string
	Secret  string
	Payload json.RawMessage
}

// Validate rejects structurally invalid requests. No attempt is consumed for them.
func (r DeliveryRequest) Validate() error {
	if r.EventID == "" {
		return errors.NewValidationError("eventId", "cannot be empty")
	}
	if err := ValidateURL(r.URL); err != nil {
		return err
	}
	if !json.Valid(r.Payload) {
		return errors.ErrInvalidPayload
	}
	return nil
}

// ValidateURL accepts absolute http and https URLs only
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidWebhookURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", errors.ErrInvalidWebhookURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", errors.ErrInvalidWebhookURL)
	}
	return nil
}

// DeliveryResult reports one attempt, or the final outcome of a delivery run
type DeliveryResult struct {
	Success      bool       `json:"success"`
	StatusCode   *int       `json:"statusCode,omitempty"`
	Attempts     int        `json:"attempts"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// AttemptRecord is the persisted delivery state of one event
type AttemptRecord struct {
	EventID        string
	MerchantID     string
	URL            string
	Secret         string
	Payload        json.RawMessage
	AttemptCount   int
	Status         Status
	LastAttemptAt  *time.Time
	NextRetryAt    *time.Time
	DeliveredAt    *time.Time
	LastStatusCode *int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewAttemptRecord creates the pending record of a freshly enqueued notification
func NewAttemptRecord(n Notification, now time.Time) *AttemptRecord {
	return &AttemptRecord{
		EventID:    n.EventID,
		MerchantID: n.MerchantID,
		URL:        n.URL,
		Payload:    n.Payload,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AttemptUpdate is the delta written after one attempt.
// NextRetryAt is non-nil if and only if Status is pending.
type AttemptUpdate struct {
	EventID       string
	URL           string
	Payload       json.RawMessage
	AttemptCount  int
	Status        Status
	LastAttemptAt time.Time
	NextRetryAt   *time.Time
	DeliveredAt   *time.Time
	StatusCode    *int
	Error         string
}
