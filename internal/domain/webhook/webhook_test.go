package webhook_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
)

func TestBackoff_Schedule(t *testing.T) {
	want := []int64{60000, 300000, 1800000, 7200000, 86400000}
	for i, ms := range want {
		assert.Equal(t, ms, webhook.Backoff(i+1).Milliseconds(), "attempt %d", i+1)
	}
}

func TestBackoff_Clamp(t *testing.T) {
	assert.Equal(t, 24*time.Hour, webhook.Backoff(6))
	assert.Equal(t, 24*time.Hour, webhook.Backoff(100))
	assert.Equal(t, time.Minute, webhook.Backoff(0))
	assert.Equal(t, time.Minute, webhook.Backoff(-3))
}

func TestStatus(t *testing.T) {
	assert.False(t, webhook.StatusPending.IsFinal())
	assert.True(t, webhook.StatusDelivered.IsFinal())
	assert.True(t, webhook.StatusFailed.IsFinal())

	assert.NoError(t, webhook.StatusPending.Validate())
	assert.Error(t, webhook.Status("retrying").Validate())
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://merchant.example.com/hooks", true},
		{"http://localhost:8080/cb", true},
		{"ftp://example.com", false},
		{"/relative/path", false},
		{"https://", false},
		{"://bad", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := webhook.ValidateURL(tt.url)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, errors.ErrInvalidWebhookURL)
			}
		})
	}
}

func TestDeliveryRequest_Validate(t *testing.T) {
	req := webhook.DeliveryRequest{
		EventID: "evt_1",
		URL:     "https://example.com/hook",
		Payload: json.RawMessage(`{"orderId":"ord_1"}`),
	}
	assert.NoError(t, req.Validate())

	bad := req
	bad.Payload = json.RawMessage(`{not json`)
	assert.ErrorIs(t, bad.Validate(), errors.ErrInvalidPayload)

	bad = req
	bad.URL = "not a url"
	assert.ErrorIs(t, bad.Validate(), errors.ErrInvalidWebhookURL)

	bad = req
	bad.EventID = ""
	assert.Error(t, bad.Validate())
}

func TestNewAttemptRecord(t *testing.T) {
	now := time.Now()
	rec := webhook.NewAttemptRecord(webhook.Notification{
		EventID:    "evt_1",
		MerchantID: "m_1",
		Payload:    json.RawMessage(`{}`),
	}, now)

	assert.Equal(t, webhook.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.Nil(t, rec.NextRetryAt)
	assert.Equal(t, now, rec.CreatedAt)
}
