package providers

import (
	"context"

	"github.com/cassiomorais/payflow/internal/domain/payment"
)

// ProviderResult is a processor's answer to a charge
type ProviderResult struct {
	Status               payment.Status
	Reference            string
	TransactionReference string
	RedirectURL          string
}

type Provider interface {
	// Name returns the processor name merchants are configured with.
	Name() string
	// Charge submits a payment. A decline is returned as a DomainError wrapping
	// ErrGatewayRejection; any other error is an infrastructure failure.
	Charge(ctx context.Context, req ChargeRequest) (*ProviderResult, error)
}

type ChargeRequest struct {
	OrderID     string
	Amount      int64 // minor units
	Currency    string
	ReturnURL   string
	Metadata    map[string]string
	Credentials map[string]string
	TestMode    bool
}

func newChargeRequest(req payment.Request, cfg payment.MerchantConfig) ChargeRequest {
	return ChargeRequest{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ReturnURL:   req.ReturnURL,
		Metadata:    req.Metadata,
		Credentials: cfg.Credentials,
		TestMode:    cfg.TestMode,
	}
}
