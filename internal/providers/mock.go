package providers

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/payment"
)

const declineCode = "card_declined"

// MockProvider simulates a processor. Rates are probabilities in [0, 1].
type MockProvider struct {
	name        string
	latency     time.Duration
	declineRate float64
	timeoutRate float64
	actionRate  float64
	pendingRate float64
}

type MockProviderOption func(*MockProvider)

func WithDeclineRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.declineRate = rate }
}

func WithLatency(d time.Duration) MockProviderOption {
	return func(p *MockProvider) { p.latency = d }
}

func WithTimeoutRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.timeoutRate = rate }
}

// WithActionRate sets how often a charge needs customer action (3-D Secure)
func WithActionRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.actionRate = rate }
}

func WithPendingRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.pendingRate = rate }
}

func NewMockProvider(name string, opts ...MockProviderOption) *MockProvider {
	p := &MockProvider{
		name:    name,
		latency: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Charge(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	// Simulate latency
	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() < p.timeoutRate {
		return nil, domainErrors.ErrProviderTimeout
	}

	if rand.Float64() < p.declineRate {
		return nil, domainErrors.NewDomainError(
			declineCode,
			fmt.Sprintf("%s: simulated decline for order %s", p.name, req.OrderID),
			domainErrors.ErrGatewayRejection,
		)
	}

	ref := fmt.Sprintf("%s_pi_%s", p.name, uuid.New().String()[:8])

	if rand.Float64() < p.actionRate {
		redirect := fmt.Sprintf("https://%s.example.com/3ds/%s", p.name, ref)
		if req.ReturnURL != "" {
			redirect += "?return_url=" + req.ReturnURL
		}
		return &ProviderResult{
			Status:      payment.StatusRequiresAction,
			Reference:   ref,
			RedirectURL: redirect,
		}, nil
	}

	if rand.Float64() < p.pendingRate {
		return &ProviderResult{Status: payment.StatusPending, Reference: ref}, nil
	}

	return &ProviderResult{
		Status:               payment.StatusCaptured,
		Reference:            ref,
		TransactionReference: fmt.Sprintf("%s_txn_%s", p.name, uuid.New().String()[:8]),
	}, nil
}
