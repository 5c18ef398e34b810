package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cassiomorais/payflow/internal/application/completion"
	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/payment"
	"github.com/cassiomorais/payflow/pkg/durable"
)

// EventPaymentRequested is the payment stream event that asks the worker to run a payment
const EventPaymentRequested = "payment.requested"

// PaymentService starts, inspects and signals payment completion runs.
type PaymentService struct {
	engine    RunEngine
	orders    payment.OrderRepository
	publisher EventPublisher
	logger    zerolog.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(engine RunEngine, orders payment.OrderRepository, publisher EventPublisher, logger zerolog.Logger) *PaymentService {
	return &PaymentService{
		engine:    engine,
		orders:    orders,
		publisher: publisher,
		logger:    logger,
	}
}

// PaymentView is the read model of one payment run.
type PaymentView struct {
	OrderID            string
	MerchantID         string
	Amount             int64
	Currency           string
	RunState           durable.State
	Status             string
	RedirectURL        string
	ProcessorReference string
	Result             *payment.Result
	Error              string
	Order              *payment.Order
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

func newPaymentView(run *durable.Run) (*PaymentView, error) {
	var req payment.Request
	if len(run.Input) > 0 {
		if err := json.Unmarshal(run.Input, &req); err != nil {
			return nil, fmt.Errorf("decode run %s input: %w", run.ID, err)
		}
	}
	v := &PaymentView{
		OrderID:            run.Key,
		MerchantID:         req.MerchantID,
		Amount:             req.Amount,
		Currency:           req.Currency,
		RunState:           run.State,
		Status:             run.Memo[completion.MemoState],
		RedirectURL:        run.Memo[completion.MemoRedirectURL],
		ProcessorReference: run.Memo[completion.MemoProcessorReference],
		Error:              run.Error,
		CreatedAt:          run.CreatedAt,
		UpdatedAt:          run.UpdatedAt,
		CompletedAt:        run.CompletedAt,
	}
	if len(run.Output) > 0 {
		var res payment.Result
		if err := run.DecodeOutput(&res); err != nil {
			return nil, fmt.Errorf("decode payment result: %w", err)
		}
		v.Result = &res
		if v.Status == "" {
			v.Status = string(res.OrderStatus())
		}
	}
	if v.Status == "" {
		v.Status = string(payment.OrderStatusPending)
	}
	return v, nil
}

// CreatePayment registers the run and asks the worker to execute it. Creating
// an existing order returns the stored run with created set to false.
func (s *PaymentService) CreatePayment(ctx context.Context, req payment.Request) (*PaymentView, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	run, created, err := s.engine.Enqueue(ctx, completion.Kind, req.OrderID, req)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue payment %s: %w", req.OrderID, err)
	}

	if created {
		// The due-run poller picks the run up if the stream publish is lost
		if err := s.publisher.PublishPaymentEvent(ctx, req.OrderID, EventPaymentRequested, map[string]any{
			"orderId":    req.OrderID,
			"merchantId": req.MerchantID,
			"amount":     req.Amount,
			"currency":   req.Currency,
			"returnUrl":  req.ReturnURL,
			"metadata":   req.Metadata,
		}); err != nil {
			s.logger.Warn().Err(err).Str("order_id", req.OrderID).Msg("Failed to publish payment event")
		}
	}

	view, err := newPaymentView(run)
	if err != nil {
		return nil, false, err
	}
	return view, created, nil
}

// ProcessPayment registers the run if needed and executes it until it
// completes or suspends. Handler failures are returned to the caller together
// with the view of the finished run.
func (s *PaymentService) ProcessPayment(ctx context.Context, req payment.Request) (*PaymentView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	run, _, err := s.engine.Enqueue(ctx, completion.Kind, req.OrderID, req)
	if err != nil {
		return nil, fmt.Errorf("enqueue payment %s: %w", req.OrderID, err)
	}
	if !run.State.IsTerminal() {
		resumed, resumeErr := s.engine.Resume(ctx, run.ID)
		if resumed == nil {
			return nil, resumeErr
		}
		run, err = resumed, resumeErr
	}

	view, viewErr := newPaymentView(run)
	if viewErr != nil {
		return nil, viewErr
	}
	return view, err
}

// GetPayment returns the run view joined with the persisted order, if any.
func (s *PaymentService) GetPayment(ctx context.Context, orderID string) (*PaymentView, error) {
	run, err := s.engine.Get(ctx, durable.RunID(completion.Kind, orderID))
	if err != nil {
		return nil, mapRunError(err)
	}
	view, err := newPaymentView(run)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	switch {
	case err == nil:
		view.Order = order
	case errors.Is(err, domainErrors.ErrOrderNotFound):
	default:
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return view, nil
}

// CompletePayment delivers the processor confirmation to a waiting run.
// Repeating a call with the same dedupID has no further effect.
func (s *PaymentService) CompletePayment(ctx context.Context, orderID string, sig payment.CompletionSignal, dedupID string) (*PaymentView, error) {
	return s.signal(ctx, orderID, completion.SignalComplete, sig, dedupID)
}

// CancelPayment cancels a run still waiting for confirmation.
func (s *PaymentService) CancelPayment(ctx context.Context, orderID, operator, dedupID string) (*PaymentView, error) {
	s.logger.Info().Str("order_id", orderID).Str("operator", operator).Msg("Payment cancel requested")
	return s.signal(ctx, orderID, completion.SignalCancel, map[string]string{"operator": operator}, dedupID)
}

func (s *PaymentService) signal(ctx context.Context, orderID, name string, payload any, dedupID string) (*PaymentView, error) {
	logger := s.logger.With().Str("order_id", orderID).Str("signal", name).Logger()

	run, err := s.engine.Signal(ctx, durable.RunID(completion.Kind, orderID), name, payload, dedupID)
	if err != nil {
		if !durable.IsHandlerError(err) || run == nil {
			return nil, mapRunError(err)
		}
		// The run finished and carries the failure in its error field
		logger.Error().Err(err).Msg("Payment run finished with error")
	}
	return newPaymentView(run)
}

func mapRunError(err error) error {
	if errors.Is(err, durable.ErrRunNotFound) {
		return domainErrors.ErrRunNotFound
	}
	return err
}
