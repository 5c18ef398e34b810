package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/payment"
	"github.com/cassiomorais/payflow/pkg/durable"
	"github.com/cassiomorais/payflow/pkg/retry"
)

const (
	// Kind is the durable workflow kind of payment completion runs
	Kind = "payment_completion"

	SignalComplete = "complete"
	SignalCancel   = "cancel"

	DefaultConfirmationTimeout = 15 * time.Minute
)

// Memo keys exposed on payment runs
const (
	MemoState              = "state"
	MemoRedirectURL        = "redirect_url"
	MemoProcessorReference = "processor_reference"

	StateAwaitingConfirmation = "awaiting_confirmation"
)

// Workflow drives one payment from submission to a terminal result.
type Workflow struct {
	merchants           payment.MerchantConfigResolver
	gateway             payment.Gateway
	orders              payment.OrderStatusStore
	confirmationTimeout time.Duration
	persistPolicy       retry.Policy
}

type Option func(*Workflow)

func WithConfirmationTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.confirmationTimeout = d
		}
	}
}

// WithPersistRetry sets the retry policy of order status writes
func WithPersistRetry(p retry.Policy) Option {
	return func(w *Workflow) { w.persistPolicy = p }
}

func NewWorkflow(
	merchants payment.MerchantConfigResolver,
	gateway payment.Gateway,
	orders payment.OrderStatusStore,
	opts ...Option,
) *Workflow {
	w := &Workflow{
		merchants:           merchants,
		gateway:             gateway,
		orders:              orders,
		confirmationTimeout: DefaultConfirmationTimeout,
		persistPolicy: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register binds the workflow to the engine under Kind.
func (w *Workflow) Register(e *durable.Engine) {
	e.Register(Kind, w.Run)
}

// Run is the durable handler. It always completes with a payment.Result; a
// failed order status write is returned alongside the result.
func (w *Workflow) Run(wf *durable.Context) (any, error) {
	var req payment.Request
	if err := wf.Input(&req); err != nil {
		// the run key is the order id, so the order still gets its terminal status
		result := payment.Failed(payment.CodeWorkflowError, err.Error())
		if persistErr := w.persistFinal(wf, payment.Request{OrderID: wf.Key()}, result); persistErr != nil {
			return result, errors.Join(err, fmt.Errorf("persist order status: %w", persistErr))
		}
		return result, err
	}

	result, err := w.drive(wf, req)
	if err != nil {
		// suspended, or the run was aborted by a failed checkpoint
		return nil, err
	}

	persistErr := w.persistFinal(wf, req, result)
	wf.SetMemo(MemoState, string(result.OrderStatus()))

	logger := wf.Logger().With().Str("order_id", req.OrderID).Logger()
	if persistErr != nil {
		logger.Error().Err(persistErr).Str("status", string(result.Status)).Msg("failed to persist final order status")
		return result, fmt.Errorf("persist order status: %w", persistErr)
	}
	logger.Info().
		Bool("success", result.Success).
		Str("status", string(result.Status)).
		Str("error_code", result.ErrorCode).
		Msg("payment run finished")
	return result, nil
}

// merchantProfile is the journaled view of a merchant's processor configuration.
// Credentials are resolved again inside the submit step and never journaled.
type merchantProfile struct {
	Found     bool   `json:"found"`
	Processor string `json:"processor,omitempty"`
	TestMode  bool   `json:"test_mode,omitempty"`
}

func (w *Workflow) drive(wf *durable.Context, req payment.Request) (payment.Result, error) {
	profile, err := durable.Step(wf, "resolve-merchant-config", func(ctx context.Context) (merchantProfile, error) {
		cfg, err := w.merchants.ResolveMerchantConfig(ctx, req.MerchantID)
		if err != nil || cfg == nil {
			return merchantProfile{}, err
		}
		return merchantProfile{Found: true, Processor: cfg.Processor, TestMode: cfg.TestMode}, nil
	})
	if err != nil {
		return payment.Failed(payment.CodeWorkflowError, err.Error()), nil
	}
	if !profile.Found {
		return payment.Failed(payment.CodeNoProcessorConfig,
			fmt.Sprintf("%s: %s", domainErrors.ErrConfigurationMissing, req.MerchantID)), nil
	}
	wf.Logger().Debug().Str("order_id", req.OrderID).Str("processor", profile.Processor).Bool("test_mode", profile.TestMode).Msg("merchant config resolved")

	outcome, err := durable.Step(wf, "submit-payment", func(ctx context.Context) (payment.Outcome, error) {
		cfg, err := w.merchants.ResolveMerchantConfig(ctx, req.MerchantID)
		if err != nil {
			return payment.Outcome{}, err
		}
		if cfg == nil {
			return payment.Outcome{}, fmt.Errorf("%w: %s", domainErrors.ErrConfigurationMissing, req.MerchantID)
		}
		return w.submit(ctx, req, *cfg)
	})
	if err != nil {
		return payment.Failed(payment.CodeWorkflowError, err.Error()), nil
	}
	if !outcome.Status.Valid() {
		return payment.Failed(payment.CodeWorkflowError,
			fmt.Sprintf("unknown gateway status %q", outcome.Status)), nil
	}
	if outcome.Status != payment.StatusRequiresAction {
		return payment.ResultFromOutcome(outcome), nil
	}

	return w.awaitConfirmation(wf, req, outcome)
}

// submit calls the gateway and turns a recognized rejection into a failed outcome.
func (w *Workflow) submit(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
	outcome, err := w.gateway.Submit(ctx, req, cfg)
	if err == nil {
		return outcome, nil
	}
	var de *domainErrors.DomainError
	if errors.Is(err, domainErrors.ErrGatewayRejection) && errors.As(err, &de) {
		return payment.Outcome{
			Success:      false,
			Status:       payment.StatusFailed,
			ErrorCode:    de.Code,
			ErrorMessage: de.Message,
		}, nil
	}
	return payment.Outcome{}, err
}

func (w *Workflow) awaitConfirmation(wf *durable.Context, req payment.Request, outcome payment.Outcome) (payment.Result, error) {
	_, err := durable.Step(wf, "persist-requires-action", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.persist(ctx, payment.OrderStatusUpdate{
			OrderID:            req.OrderID,
			MerchantID:         req.MerchantID,
			Status:             payment.OrderStatusRequiresAction,
			ProcessorReference: outcome.ProcessorReference,
		})
	})
	if err != nil {
		return payment.Failed(payment.CodeWorkflowError, err.Error()), nil
	}

	wf.SetMemo(MemoState, StateAwaitingConfirmation)
	wf.SetMemo(MemoProcessorReference, outcome.ProcessorReference)
	if outcome.RedirectURL != "" {
		wf.SetMemo(MemoRedirectURL, outcome.RedirectURL)
	}

	// cancel outranks complete when both are buffered
	sig, err := wf.Await("confirmation", w.confirmationTimeout, SignalCancel, SignalComplete)
	if err != nil {
		return payment.Result{}, err
	}

	result := payment.Result{
		Status:           payment.StatusFailed,
		ProcessorOrderID: outcome.ProcessorReference,
	}
	switch {
	case sig == nil:
		result.ErrorCode = payment.CodeTimeout
		result.ErrorMessage = domainErrors.ErrConfirmationTimeout.Error()
	case sig.Name == SignalCancel:
		result.ErrorCode = payment.CodeCancelled
		result.ErrorMessage = "payment cancelled"
	default:
		var cs payment.CompletionSignal
		if err := sig.Decode(&cs); err != nil {
			return payment.Failed(payment.CodeWorkflowError, err.Error()), nil
		}
		result.ProcessorTransactionID = cs.ProcessorTransactionReference
		if cs.Success {
			result.Success = true
			result.Status = payment.StatusCaptured
		} else {
			result.ErrorCode = payment.CodePaymentFailed
			result.ErrorMessage = "payment failed after confirmation"
		}
	}
	return result, nil
}

// persistFinal is the single order status write of a terminal run.
func (w *Workflow) persistFinal(wf *durable.Context, req payment.Request, result payment.Result) error {
	_, err := durable.Step(wf, "persist-order-status", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.persist(ctx, payment.OrderStatusUpdate{
			OrderID:                       req.OrderID,
			MerchantID:                    req.MerchantID,
			Status:                        result.OrderStatus(),
			ProcessorReference:            result.ProcessorOrderID,
			ProcessorTransactionReference: result.ProcessorTransactionID,
			ErrorCode:                     result.ErrorCode,
		})
	})
	return err
}

func (w *Workflow) persist(ctx context.Context, update payment.OrderStatusUpdate) error {
	return retry.Do(ctx, w.persistPolicy, func() error {
		return w.orders.PersistOrderStatus(ctx, update)
	})
}
