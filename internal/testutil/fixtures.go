package testutil

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cassiomorais/payflow/internal/domain/payment"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
)

func NewTestRequest(merchantID string, amount int64, currency string) payment.Request {
	return payment.Request{
		OrderID:    "ord_" + uuid.NewString()[:8],
		MerchantID: merchantID,
		Amount:     amount,
		Currency:   currency,
	}
}

func NewTestMerchantConfig(merchantID string) *payment.MerchantConfig {
	return &payment.MerchantConfig{
		MerchantID:  merchantID,
		Processor:   "mock",
		Credentials: map[string]string{"api_key": "sk_test_123"},
		TestMode:    true,
	}
}

func NewTestNotification(merchantID, url string) webhook.Notification {
	return webhook.Notification{
		EventID:    uuid.NewString(),
		MerchantID: merchantID,
		URL:        url,
		Payload:    RawJSON(map[string]any{"orderId": "ord_1", "status": "captured"}),
	}
}

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
