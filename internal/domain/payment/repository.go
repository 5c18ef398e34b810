package payment

import (
	"context"
)

// MerchantConfigResolver resolves a merchant's processor configuration.
// It returns (nil, nil) when the merchant has none.
type MerchantConfigResolver interface {
	ResolveMerchantConfig(ctx context.Context, merchantID string) (*MerchantConfig, error)
}

// Gateway submits a payment to the merchant's processor.
// A recognized rejection is returned as a DomainError wrapping ErrGatewayRejection.
type Gateway interface {
	Submit(ctx context.Context, req Request, cfg MerchantConfig) (Outcome, error)
}

// OrderStatusStore persists order status changes
type OrderStatusStore interface {
	PersistOrderStatus(ctx context.Context, update OrderStatusUpdate) error
}

// OrderRepository is the read/write order store
type OrderRepository interface {
	OrderStatusStore

	// GetByID returns ErrOrderNotFound when the order does not exist
	GetByID(ctx context.Context, orderID string) (*Order, error)
}
