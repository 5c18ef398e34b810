package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/payment"
)

// Recorder receives gateway and breaker measurements
type Recorder interface {
	GatewayRequest(processor, status string)
	BreakerState(name string, state int)
	BreakerRequest(name, result string)
}

type nopRecorder struct{}

func (nopRecorder) GatewayRequest(string, string) {}
func (nopRecorder) BreakerState(string, int)      {}
func (nopRecorder) BreakerRequest(string, string) {}

// BreakerSettings tunes the per-processor circuit breaker
type BreakerSettings struct {
	Threshold int
	Timeout   time.Duration
	Interval  time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{Threshold: 10, Timeout: 30 * time.Second, Interval: 60 * time.Second}
}

// Factory routes charges to the merchant's processor through a circuit breaker.
// It implements payment.Gateway.
type Factory struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*ProviderResult]
	settings        BreakerSettings
	recorder        Recorder
}

type FactoryOption func(*Factory)

func WithBreakerSettings(s BreakerSettings) FactoryOption {
	return func(f *Factory) { f.settings = s }
}

func WithRecorder(r Recorder) FactoryOption {
	return func(f *Factory) { f.recorder = r }
}

func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		providers:       make(map[string]Provider),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*ProviderResult]),
		settings:        DefaultBreakerSettings(),
		recorder:        nopRecorder{},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// NewDefaultFactory registers the simulated processors used outside production.
func NewDefaultFactory(latency time.Duration, opts ...FactoryOption) *Factory {
	f := NewFactory(opts...)
	f.Register(NewMockProvider("mock", WithLatency(latency)))
	f.Register(NewMockProvider("stripe",
		WithLatency(latency),
		WithDeclineRate(0.05),
		WithActionRate(0.2),
	))
	f.Register(NewMockProvider("paypal",
		WithLatency(latency),
		WithDeclineRate(0.08),
		WithPendingRate(0.1),
	))
	return f
}

func (f *Factory) Register(p Provider) {
	name := p.Name()
	threshold := uint32(max(f.settings.Threshold, 1))
	breaker := gobreaker.NewCircuitBreaker[*ProviderResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: threshold,
		Interval:    f.settings.Interval,
		Timeout:     f.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.6
		},
		// A decline is a healthy answer from the processor.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrGatewayRejection)
		},
		OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
			f.recorder.BreakerState(name, int(to))
		},
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[name] = p
	f.circuitBreakers[name] = breaker
}

func (f *Factory) Get(name string) (Provider, *gobreaker.CircuitBreaker[*ProviderResult], error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.providers[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrProviderNotFound)
	}
	return p, f.circuitBreakers[name], nil
}

// Submit implements payment.Gateway
func (f *Factory) Submit(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
	p, breaker, err := f.Get(cfg.Processor)
	if err != nil {
		return payment.Outcome{}, err
	}

	res, err := breaker.Execute(func() (*ProviderResult, error) {
		return p.Charge(ctx, newChargeRequest(req, cfg))
	})
	if err != nil {
		switch {
		case errors.Is(err, domainErrors.ErrGatewayRejection):
			f.recorder.BreakerRequest(p.Name(), "success")
			f.recorder.GatewayRequest(p.Name(), "rejected")
			return payment.Outcome{}, err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			f.recorder.BreakerRequest(p.Name(), "rejected")
			f.recorder.GatewayRequest(p.Name(), "unavailable")
			return payment.Outcome{}, fmt.Errorf("%s: %w", p.Name(), domainErrors.ErrProviderUnavailable)
		default:
			f.recorder.BreakerRequest(p.Name(), "failure")
			f.recorder.GatewayRequest(p.Name(), "error")
			return payment.Outcome{}, fmt.Errorf("%s charge: %w", p.Name(), err)
		}
	}
	f.recorder.BreakerRequest(p.Name(), "success")
	f.recorder.GatewayRequest(p.Name(), string(res.Status))

	return payment.Outcome{
		Success:                       res.Status != payment.StatusFailed,
		Status:                        res.Status,
		ProcessorReference:            res.Reference,
		ProcessorTransactionReference: res.TransactionReference,
		RedirectURL:                   res.RedirectURL,
	}, nil
}
