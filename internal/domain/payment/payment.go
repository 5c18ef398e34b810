package payment

import (
	"time"

	"github.com/cassiomorais/payflow/internal/domain/errors"
)

// Status is the normalized gateway outcome status
type Status string

const (
	StatusCaptured       Status = "captured"
	StatusPending        Status = "pending"
	StatusRequiresAction Status = "requires_action"
	StatusFailed         Status = "failed"
)

// Valid reports whether s is one of the normalized outcome statuses
func (s Status) Valid() bool {
	switch s {
	case StatusCaptured, StatusPending, StatusRequiresAction, StatusFailed:
		return true
	}
	return false
}

// OrderStatus is the status persisted on the order record
type OrderStatus string

const (
	OrderStatusRequiresAction OrderStatus = "requires_action"
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusCaptured       OrderStatus = "captured"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// ShouldNotify reports whether persisting this status announces it to the merchant.
// requires_action is an intermediate status and is never announced.
func (s OrderStatus) ShouldNotify() bool {
	return s != OrderStatusRequiresAction
}

// Failure reasons carried in Result.ErrorCode
const (
	CodeNoProcessorConfig = "no_processor_config"
	CodeWorkflowError     = "workflow_error"
	CodeCancelled         = "cancelled"
	CodeTimeout           = "timeout"
	CodePaymentFailed     = "payment_failed"
)

// Request is a payment initiation. Amount is in minor units.
type Request struct {
	OrderID    string            `json:"orderId"`
	MerchantID string            `json:"merchantId"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	ReturnURL  string            `json:"returnUrl,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate checks the identifiers a run needs. Amounts and currencies are the gateway's concern.
func (r Request) Validate() error {
	if r.OrderID == "" {
		return errors.NewValidationError("orderId", "cannot be empty")
	}
	if r.MerchantID == "" {
		return errors.NewValidationError("merchantId", "cannot be empty")
	}
	return nil
}

// Outcome is the normalized response of a gateway call
type Outcome struct {
	Success                       bool   `json:"success"`
	Status                        Status `json:"status"`
	ProcessorReference            string `json:"processorReference,omitempty"`
	ProcessorTransactionReference string `json:"processorTransactionReference,omitempty"`
	RedirectURL                   string `json:"redirectUrl,omitempty"`
	ErrorCode                     string `json:"errorCode,omitempty"`
	ErrorMessage                  string `json:"errorMessage,omitempty"`
}

// CompletionSignal is the out-of-band confirmation of a payment that required action
type CompletionSignal struct {
	Success                       bool   `json:"success"`
	ProcessorTransactionReference string `json:"processorTransactionReference,omitempty"`
}

// Result is the value returned by a payment completion run
type Result struct {
	Success                bool   `json:"success"`
	Status                 Status `json:"status"`
	ProcessorOrderID       string `json:"processorOrderId,omitempty"`
	ProcessorTransactionID string `json:"processorTransactionId,omitempty"`
	RedirectURL            string `json:"redirectUrl,omitempty"`
	ErrorCode              string `json:"errorCode,omitempty"`
	ErrorMessage           string `json:"errorMessage,omitempty"`
}

// ResultFromOutcome maps a gateway outcome onto a run result.
// A captured status without success is reported as failed.
func ResultFromOutcome(o Outcome) Result {
	status := o.Status
	if status == StatusCaptured && !o.Success {
		status = StatusFailed
	}
	return Result{
		Success:                o.Success && status != StatusFailed,
		Status:                 status,
		ProcessorOrderID:       o.ProcessorReference,
		ProcessorTransactionID: o.ProcessorTransactionReference,
		RedirectURL:            o.RedirectURL,
		ErrorCode:              o.ErrorCode,
		ErrorMessage:           o.ErrorMessage,
	}
}

// Failed builds a failed result with the given reason
func Failed(code, message string) Result {
	return Result{
		Success:      false,
		Status:       StatusFailed,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// OrderStatus returns the order status a terminal result persists
func (r Result) OrderStatus() OrderStatus {
	switch {
	case r.ErrorCode == CodeCancelled:
		return OrderStatusCancelled
	case r.Status == StatusCaptured:
		return OrderStatusCaptured
	case r.Status == StatusPending:
		return OrderStatusPending
	case r.Status == StatusRequiresAction:
		return OrderStatusRequiresAction
	default:
		return OrderStatusFailed
	}
}

// MerchantConfig is the resolved processor configuration of a merchant
type MerchantConfig struct {
	MerchantID  string
	Processor   string
	Credentials map[string]string
	TestMode    bool
}

// OrderStatusUpdate is one order status write
type OrderStatusUpdate struct {
	OrderID                       string
	MerchantID                    string
	Status                        OrderStatus
	ProcessorReference            string
	ProcessorTransactionReference string
	ErrorCode                     string
}

// Order is the persisted order record
type Order struct {
	ID                            string
	MerchantID                    string
	Status                        OrderStatus
	ProcessorReference            string
	ProcessorTransactionReference string
	ErrorCode                     string
	CreatedAt                     time.Time
	UpdatedAt                     time.Time
}
