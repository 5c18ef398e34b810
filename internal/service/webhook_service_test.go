package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/payflow/internal/application/delivery"
	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
	"github.com/cassiomorais/payflow/internal/testutil"
	"github.com/cassiomorais/payflow/pkg/durable"
)

type stubSender struct {
	mu     sync.Mutex
	status int
	calls  int
}

func (s *stubSender) Send(ctx context.Context, url string, header http.Header, body []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.status, nil
}

type webhookFixture struct {
	svc       *WebhookService
	clock     *testutil.Clock
	sender    *stubSender
	attempts  *testutil.MockAttemptRepository
	publisher *testutil.MockEventPublisher
}

func setupWebhookService(status int) *webhookFixture {
	f := &webhookFixture{
		clock:     testutil.NewClock(),
		sender:    &stubSender{status: status},
		attempts:  testutil.NewMockAttemptRepository(),
		publisher: &testutil.MockEventPublisher{},
	}
	merchants := testutil.NewMockMerchantRepository()
	merchants.AddDestination("m_1", webhook.Destination{URL: "https://merchant.example.com/hooks", Secret: "whsec_1"})

	engine := durable.New(durable.NewMemoryStore(), durable.WithClock(f.clock.Now))
	deliverer := delivery.NewDeliverer(f.attempts, f.sender, delivery.WithClock(f.clock.Now))
	delivery.NewWorkflow(deliverer, merchants, f.attempts).Register(engine)

	f.svc = NewWebhookService(engine, f.attempts, f.publisher, zerolog.Nop())
	f.svc.now = f.clock.Now
	return f
}

func TestSubmitNotification_GeneratesEventID(t *testing.T) {
	f := setupWebhookService(http.StatusOK)
	n := testutil.NewTestNotification("m_1", "")
	n.EventID = ""

	view, created, err := f.svc.SubmitNotification(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, view.Record)
	assert.NotEmpty(t, view.Record.EventID)
	assert.Equal(t, webhook.StatusPending, view.Record.Status)
	assert.Equal(t, 0, view.Record.AttemptCount)
	assert.Equal(t, durable.StateRunning, view.RunState)
	assert.Zero(t, f.sender.calls)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "webhooks", events[0].Stream)
	assert.Equal(t, view.Record.EventID, events[0].Key)
	assert.Equal(t, view.Record.EventID, events[0].Data["eventId"])
}

func TestSubmitNotification_Idempotent(t *testing.T) {
	f := setupWebhookService(http.StatusOK)
	n := testutil.NewTestNotification("m_1", "")

	_, created, err := f.svc.SubmitNotification(context.Background(), n)
	require.NoError(t, err)
	require.True(t, created)

	_, created, err = f.svc.SubmitNotification(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, f.publisher.Events(), 1)
}

func TestSubmitNotification_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(n *webhook.Notification)
		wantErr error
	}{
		{
			name:    "invalid payload",
			mutate:  func(n *webhook.Notification) { n.Payload = json.RawMessage(`{"orderId":`) },
			wantErr: domainErrors.ErrInvalidPayload,
		},
		{
			name:    "unsupported url scheme",
			mutate:  func(n *webhook.Notification) { n.URL = "ftp://merchant.example.com" },
			wantErr: domainErrors.ErrInvalidWebhookURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupWebhookService(http.StatusOK)
			n := testutil.NewTestNotification("m_1", "")
			tt.mutate(&n)

			_, _, err := f.svc.SubmitNotification(context.Background(), n)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.publisher.Events())
		})
	}
}

func TestSubmitNotification_RequiresTarget(t *testing.T) {
	f := setupWebhookService(http.StatusOK)
	n := testutil.NewTestNotification("", "")

	_, _, err := f.svc.SubmitNotification(context.Background(), n)

	var ve *domainErrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestProcessNotification_Delivered(t *testing.T) {
	f := setupWebhookService(http.StatusOK)
	n := testutil.NewTestNotification("m_1", "")

	view, err := f.svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, durable.StateCompleted, view.RunState)
	assert.Equal(t, webhook.StatusDelivered, view.Record.Status)
	assert.Equal(t, 1, view.Record.AttemptCount)
	require.NotNil(t, view.Result)
	assert.True(t, view.Result.Success)
	assert.Equal(t, 1, f.sender.calls)
}

func TestProcessNotification_RequiresEventID(t *testing.T) {
	f := setupWebhookService(http.StatusOK)
	n := testutil.NewTestNotification("m_1", "")
	n.EventID = ""

	_, err := f.svc.ProcessNotification(context.Background(), n)

	var ve *domainErrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestProcessNotification_RetryThenCancel(t *testing.T) {
	f := setupWebhookService(http.StatusInternalServerError)
	n := testutil.NewTestNotification("m_1", "")
	ctx := context.Background()

	view, err := f.svc.ProcessNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, durable.StateSuspended, view.RunState)
	assert.Equal(t, webhook.StatusPending, view.Record.Status)
	require.NotNil(t, view.Record.NextRetryAt)
	assert.Equal(t, f.clock.Now().Add(time.Minute), *view.Record.NextRetryAt)

	view, err = f.svc.CancelDelivery(ctx, n.EventID, "ops")
	require.NoError(t, err)
	assert.Equal(t, durable.StateCompleted, view.RunState)
	assert.Equal(t, webhook.StatusFailed, view.Record.Status)
	assert.Nil(t, view.Record.NextRetryAt)
	require.NotNil(t, view.Result)
	assert.False(t, view.Result.Success)
	assert.Equal(t, 1, view.Result.Attempts)

	// Cancelling again is a no-op
	_, err = f.svc.CancelDelivery(ctx, n.EventID, "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, f.sender.calls)
}

func TestGetDelivery(t *testing.T) {
	f := setupWebhookService(http.StatusOK)
	n := testutil.NewTestNotification("m_1", "")
	ctx := context.Background()

	_, err := f.svc.ProcessNotification(ctx, n)
	require.NoError(t, err)

	view, err := f.svc.GetDelivery(ctx, n.EventID)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusDelivered, view.Record.Status)
	assert.Equal(t, durable.StateCompleted, view.RunState)
}

func TestGetDelivery_NotFound(t *testing.T) {
	f := setupWebhookService(http.StatusOK)

	_, err := f.svc.GetDelivery(context.Background(), "evt_missing")
	assert.ErrorIs(t, err, domainErrors.ErrAttemptNotFound)
}

func TestCancelDelivery_NotFound(t *testing.T) {
	f := setupWebhookService(http.StatusOK)

	_, err := f.svc.CancelDelivery(context.Background(), "evt_missing", "ops")
	assert.ErrorIs(t, err, domainErrors.ErrRunNotFound)
}
