package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/payment"
)

// stubProvider answers every charge with the configured result
type stubProvider struct {
	name   string
	result *ProviderResult
	err    error
	calls  int
	last   ChargeRequest
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Charge(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	s.calls++
	s.last = req
	return s.result, s.err
}

type recorded struct {
	mu       sync.Mutex
	gateway  map[string]int
	states   []int
	requests map[string]int
}

func newRecorded() *recorded {
	return &recorded{gateway: map[string]int{}, requests: map[string]int{}}
}

func (r *recorded) GatewayRequest(processor, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateway[processor+"/"+status]++
}

func (r *recorded) BreakerState(name string, state int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorded) BreakerRequest(name, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[result]++
}

func request() (payment.Request, payment.MerchantConfig) {
	req := payment.Request{
		OrderID:    "ord_1",
		MerchantID: "m_1",
		Amount:     4999,
		Currency:   "usd",
		ReturnURL:  "https://shop.example.com/r",
	}
	cfg := payment.MerchantConfig{
		MerchantID:  "m_1",
		Processor:   "stub",
		Credentials: map[string]string{"api_key": "sk_test"},
		TestMode:    true,
	}
	return req, cfg
}

func TestNewDefaultFactory(t *testing.T) {
	factory := NewDefaultFactory(0)

	for _, name := range []string{"mock", "stripe", "paypal"} {
		provider, breaker, err := factory.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, provider.Name())
		assert.NotNil(t, breaker)
	}
}

func TestFactory_Get_UnknownProvider(t *testing.T) {
	factory := NewFactory()

	provider, breaker, err := factory.Get("unknown")
	assert.ErrorIs(t, err, domainErrors.ErrProviderNotFound)
	assert.Nil(t, provider)
	assert.Nil(t, breaker)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestFactory_Submit_Captured(t *testing.T) {
	rec := newRecorded()
	stub := &stubProvider{name: "stub", result: &ProviderResult{
		Status:               payment.StatusCaptured,
		Reference:            "pi_1",
		TransactionReference: "txn_1",
	}}
	factory := NewFactory(WithRecorder(rec))
	factory.Register(stub)

	req, cfg := request()
	outcome, err := factory.Submit(context.Background(), req, cfg)
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, payment.StatusCaptured, outcome.Status)
	assert.Equal(t, "pi_1", outcome.ProcessorReference)
	assert.Equal(t, "txn_1", outcome.ProcessorTransactionReference)

	assert.Equal(t, int64(4999), stub.last.Amount)
	assert.Equal(t, "sk_test", stub.last.Credentials["api_key"])
	assert.True(t, stub.last.TestMode)
	assert.Equal(t, 1, rec.gateway["stub/captured"])
}

func TestFactory_Submit_RequiresAction(t *testing.T) {
	stub := &stubProvider{name: "stub", result: &ProviderResult{
		Status:      payment.StatusRequiresAction,
		Reference:   "pi_2",
		RedirectURL: "https://acs.example.com/3ds",
	}}
	factory := NewFactory()
	factory.Register(stub)

	req, cfg := request()
	outcome, err := factory.Submit(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, payment.StatusRequiresAction, outcome.Status)
	assert.Equal(t, "https://acs.example.com/3ds", outcome.RedirectURL)
}

func TestFactory_Submit_UnknownProcessor(t *testing.T) {
	factory := NewFactory()
	req, cfg := request()
	cfg.Processor = "adyen"

	_, err := factory.Submit(context.Background(), req, cfg)
	assert.ErrorIs(t, err, domainErrors.ErrProviderNotFound)
}

func TestFactory_Submit_RejectionsDoNotTripBreaker(t *testing.T) {
	rec := newRecorded()
	stub := &stubProvider{name: "stub", err: domainErrors.NewDomainError("card_declined", "declined", domainErrors.ErrGatewayRejection)}
	factory := NewFactory(WithRecorder(rec), WithBreakerSettings(BreakerSettings{Threshold: 2, Timeout: time.Minute, Interval: time.Minute}))
	factory.Register(stub)

	req, cfg := request()
	for i := 0; i < 5; i++ {
		_, err := factory.Submit(context.Background(), req, cfg)
		assert.ErrorIs(t, err, domainErrors.ErrGatewayRejection)
	}
	assert.Equal(t, 5, stub.calls)
	assert.Empty(t, rec.states)
	assert.Equal(t, 5, rec.gateway["stub/rejected"])
}

func TestFactory_Submit_BreakerOpensOnInfrastructureErrors(t *testing.T) {
	rec := newRecorded()
	stub := &stubProvider{name: "stub", err: errors.New("connection reset")}
	factory := NewFactory(WithRecorder(rec), WithBreakerSettings(BreakerSettings{Threshold: 2, Timeout: time.Minute, Interval: time.Minute}))
	factory.Register(stub)

	req, cfg := request()
	for i := 0; i < 2; i++ {
		_, err := factory.Submit(context.Background(), req, cfg)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	}

	_, err := factory.Submit(context.Background(), req, cfg)
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	assert.Equal(t, 2, stub.calls)
	require.NotEmpty(t, rec.states)
	assert.Equal(t, 2, rec.states[len(rec.states)-1]) // open
	assert.Equal(t, 1, rec.requests["rejected"])
}
