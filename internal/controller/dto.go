package controller

import (
	"encoding/json"
	"time"

	"github.com/cassiomorais/payflow/internal/domain/payment"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
	"github.com/cassiomorais/payflow/internal/service"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns and validation tags.
// Controllers convert them to domain types before calling the services.

// CreatePaymentRequest starts a payment completion run.
type CreatePaymentRequest struct {
	OrderID    string            `json:"order_id" validate:"required,max=128"`
	MerchantID string            `json:"merchant_id" validate:"required,max=128"`
	Amount     int64             `json:"amount" validate:"gt=0"`
	Currency   string            `json:"currency" validate:"required,len=3"`
	ReturnURL  string            `json:"return_url,omitempty" validate:"omitempty,url"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CompletePaymentRequest is the processor confirmation of a payment that required action.
// SignalID makes retried confirmations idempotent.
type CompletePaymentRequest struct {
	Success                       *bool  `json:"success" validate:"required"`
	ProcessorTransactionReference string `json:"processor_transaction_reference,omitempty" validate:"max=256"`
	SignalID                      string `json:"signal_id,omitempty" validate:"max=128"`
}

// CreateWebhookRequest enqueues a notification. URL overrides the merchant's endpoint.
type CreateWebhookRequest struct {
	EventID    string          `json:"event_id,omitempty" validate:"max=128"`
	MerchantID string          `json:"merchant_id" validate:"required_without=URL,max=128"`
	URL        string          `json:"url,omitempty" validate:"omitempty,url"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
}

func (r CreatePaymentRequest) toDomain() payment.Request {
	return payment.Request{
		OrderID:    r.OrderID,
		MerchantID: r.MerchantID,
		Amount:     r.Amount,
		Currency:   r.Currency,
		ReturnURL:  r.ReturnURL,
		Metadata:   r.Metadata,
	}
}

func (r CreateWebhookRequest) toDomain() webhook.Notification {
	return webhook.Notification{
		EventID:    r.EventID,
		MerchantID: r.MerchantID,
		URL:        r.URL,
		Payload:    r.Payload,
	}
}

// --- Response DTOs ---

// ResultResponse is the terminal result of a payment run.
type ResultResponse struct {
	Success                bool   `json:"success"`
	Status                 string `json:"status"`
	ProcessorOrderID       string `json:"processor_order_id,omitempty"`
	ProcessorTransactionID string `json:"processor_transaction_id,omitempty"`
	RedirectURL            string `json:"redirect_url,omitempty"`
	ErrorCode              string `json:"error_code,omitempty"`
	ErrorMessage           string `json:"error_message,omitempty"`
}

// OrderResponse is the persisted order record.
type OrderResponse struct {
	Status                        string    `json:"status"`
	ProcessorReference            string    `json:"processor_reference,omitempty"`
	ProcessorTransactionReference string    `json:"processor_transaction_reference,omitempty"`
	ErrorCode                     string    `json:"error_code,omitempty"`
	UpdatedAt                     time.Time `json:"updated_at"`
}

// PaymentResponse represents a payment run in API responses.
type PaymentResponse struct {
	OrderID            string          `json:"order_id"`
	MerchantID         string          `json:"merchant_id"`
	Amount             int64           `json:"amount"`
	Currency           string          `json:"currency"`
	RunState           string          `json:"run_state"`
	Status             string          `json:"status"`
	RedirectURL        string          `json:"redirect_url,omitempty"`
	ProcessorReference string          `json:"processor_reference,omitempty"`
	Result             *ResultResponse `json:"result,omitempty"`
	LastError          string          `json:"last_error,omitempty"`
	Order              *OrderResponse  `json:"order,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// WebhookResponse represents the delivery state of an event.
type WebhookResponse struct {
	EventID        string     `json:"event_id"`
	MerchantID     string     `json:"merchant_id,omitempty"`
	URL            string     `json:"url,omitempty"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	LastStatusCode *int       `json:"last_status_code,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	RunState       string     `json:"run_state,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromPaymentView converts a payment run view to API response.
func FromPaymentView(v *service.PaymentView) *PaymentResponse {
	resp := &PaymentResponse{
		OrderID:            v.OrderID,
		MerchantID:         v.MerchantID,
		Amount:             v.Amount,
		Currency:           v.Currency,
		RunState:           string(v.RunState),
		Status:             v.Status,
		RedirectURL:        v.RedirectURL,
		ProcessorReference: v.ProcessorReference,
		LastError:          v.Error,
		CreatedAt:          v.CreatedAt,
		UpdatedAt:          v.UpdatedAt,
		CompletedAt:        v.CompletedAt,
	}
	if r := v.Result; r != nil {
		resp.Result = &ResultResponse{
			Success:                r.Success,
			Status:                 string(r.Status),
			ProcessorOrderID:       r.ProcessorOrderID,
			ProcessorTransactionID: r.ProcessorTransactionID,
			RedirectURL:            r.RedirectURL,
			ErrorCode:              r.ErrorCode,
			ErrorMessage:           r.ErrorMessage,
		}
	}
	if o := v.Order; o != nil {
		resp.Order = &OrderResponse{
			Status:                        string(o.Status),
			ProcessorReference:            o.ProcessorReference,
			ProcessorTransactionReference: o.ProcessorTransactionReference,
			ErrorCode:                     o.ErrorCode,
			UpdatedAt:                     o.UpdatedAt,
		}
	}
	return resp
}

// FromDeliveryView converts a delivery view to API response.
func FromDeliveryView(v *service.DeliveryView) *WebhookResponse {
	rec := v.Record
	return &WebhookResponse{
		EventID:        rec.EventID,
		MerchantID:     rec.MerchantID,
		URL:            rec.URL,
		Status:         string(rec.Status),
		AttemptCount:   rec.AttemptCount,
		LastAttemptAt:  rec.LastAttemptAt,
		NextRetryAt:    rec.NextRetryAt,
		DeliveredAt:    rec.DeliveredAt,
		LastStatusCode: rec.LastStatusCode,
		LastError:      rec.LastError,
		RunState:       string(v.RunState),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}
