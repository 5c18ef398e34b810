package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/payment"
)

func chargeRequest() ChargeRequest {
	return ChargeRequest{
		OrderID:  "ord_123",
		Amount:   4999,
		Currency: "usd",
		Metadata: map[string]string{"customer": "cust_123"},
	}
}

func TestNewMockProvider(t *testing.T) {
	provider := NewMockProvider("test")

	assert.NotNil(t, provider)
	assert.Equal(t, "test", provider.Name())
}

func TestMockProvider_Charge_Captured(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0))

	result, err := provider.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCaptured, result.Status)
	assert.Contains(t, result.Reference, "test_pi_")
	assert.Contains(t, result.TransactionReference, "test_txn_")
	assert.Empty(t, result.RedirectURL)
}

func TestMockProvider_Charge_Declined(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithDeclineRate(1.0))

	result, err := provider.Charge(context.Background(), chargeRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domainErrors.ErrGatewayRejection)

	var de *domainErrors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "card_declined", de.Code)
	assert.Contains(t, de.Message, "ord_123")
}

func TestMockProvider_Charge_RequiresAction(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithActionRate(1.0))
	req := chargeRequest()
	req.ReturnURL = "https://shop.example.com/return"

	result, err := provider.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRequiresAction, result.Status)
	assert.Contains(t, result.RedirectURL, "return_url=https://shop.example.com/return")
	assert.Empty(t, result.TransactionReference)
}

func TestMockProvider_Charge_Pending(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithPendingRate(1.0))

	result, err := provider.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, result.Status)
}

func TestMockProvider_Charge_Timeout(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithTimeoutRate(1.0))

	_, err := provider.Charge(context.Background(), chargeRequest())
	assert.ErrorIs(t, err, domainErrors.ErrProviderTimeout)
}

func TestMockProvider_Latency(t *testing.T) {
	latency := 50 * time.Millisecond
	provider := NewMockProvider("test", WithLatency(latency))

	start := time.Now()
	_, err := provider.Charge(context.Background(), chargeRequest())
	duration := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, duration, latency)
}

func TestMockProvider_ContextCancelled(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Charge(ctx, chargeRequest())
	assert.ErrorIs(t, err, context.Canceled)
}
