package completion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/payflow/internal/application/completion"
	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/payment"
	"github.com/cassiomorais/payflow/internal/testutil"
	"github.com/cassiomorais/payflow/pkg/durable"
	"github.com/cassiomorais/payflow/pkg/retry"
)

type fixture struct {
	clock     *testutil.Clock
	engine    *durable.Engine
	merchants *testutil.MockMerchantRepository
	gateway   *testutil.MockGateway
	orders    *testutil.MockOrderRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:     testutil.NewClock(),
		merchants: testutil.NewMockMerchantRepository(),
		gateway:   &testutil.MockGateway{},
		orders:    testutil.NewMockOrderRepository(),
	}
	f.merchants.AddConfig(testutil.NewTestMerchantConfig("m_1"))
	f.engine = durable.New(durable.NewMemoryStore(), durable.WithClock(f.clock.Now))
	completion.NewWorkflow(f.merchants, f.gateway, f.orders,
		completion.WithPersistRetry(retry.Policy{MaxAttempts: 1}),
	).Register(f.engine)
	return f
}

func (f *fixture) start(t *testing.T, req payment.Request) *durable.Run {
	t.Helper()
	run, err := f.engine.Start(context.Background(), completion.Kind, req.OrderID, req)
	require.NoError(t, err)
	return run
}

func (f *fixture) signal(t *testing.T, orderID, name string, payload any) *durable.Run {
	t.Helper()
	run, err := f.engine.Signal(context.Background(), durable.RunID(completion.Kind, orderID), name, payload, "")
	require.NoError(t, err)
	return run
}

func resultOf(t *testing.T, run *durable.Run) payment.Result {
	t.Helper()
	require.Equal(t, durable.StateCompleted, run.State)
	var res payment.Result
	require.NoError(t, run.DecodeOutput(&res))
	return res
}

func requiresAction(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
	return payment.Outcome{
		Success:            false,
		Status:             payment.StatusRequiresAction,
		ProcessorReference: "pi_3ds",
		RedirectURL:        "https://acs.example.com/challenge",
	}, nil
}

func TestWorkflow_CapturedImmediately(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = func(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
		return payment.Outcome{Success: true, Status: payment.StatusCaptured, ProcessorReference: "pi_1"}, nil
	}

	req := testutil.NewTestRequest("m_1", 4999, "usd")
	res := resultOf(t, f.start(t, req))

	assert.Equal(t, payment.Result{Success: true, Status: payment.StatusCaptured, ProcessorOrderID: "pi_1"}, res)

	updates := f.orders.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, payment.OrderStatusCaptured, updates[0].Status)
	assert.Equal(t, req.OrderID, updates[0].OrderID)
	assert.Equal(t, "pi_1", updates[0].ProcessorReference)
	assert.Len(t, f.gateway.Calls(), 1)
}

func TestWorkflow_PendingAndFailedPersistDirectly(t *testing.T) {
	tests := []struct {
		name    string
		outcome payment.Outcome
		status  payment.OrderStatus
	}{
		{"pending", payment.Outcome{Success: true, Status: payment.StatusPending, ProcessorReference: "pi_p"}, payment.OrderStatusPending},
		{"failed", payment.Outcome{Status: payment.StatusFailed, ErrorCode: "insufficient_funds"}, payment.OrderStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gateway.SubmitFunc = func(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
				return tt.outcome, nil
			}

			res := resultOf(t, f.start(t, testutil.NewTestRequest("m_1", 100, "eur")))
			assert.Equal(t, tt.outcome.Status, res.Status)
			assert.Equal(t, tt.outcome.ErrorCode, res.ErrorCode)

			updates := f.orders.Updates()
			require.Len(t, updates, 1)
			assert.Equal(t, tt.status, updates[0].Status)
		})
	}
}

func TestWorkflow_RequiresActionSuspends(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = requiresAction

	req := testutil.NewTestRequest("m_1", 4999, "usd")
	run := f.start(t, req)

	assert.Equal(t, durable.StateSuspended, run.State)
	assert.Equal(t, []string{completion.SignalCancel, completion.SignalComplete}, run.Awaiting)
	require.NotNil(t, run.WakeAt)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), *run.WakeAt)
	assert.Equal(t, completion.StateAwaitingConfirmation, run.Memo[completion.MemoState])
	assert.Equal(t, "https://acs.example.com/challenge", run.Memo[completion.MemoRedirectURL])

	updates := f.orders.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, payment.OrderStatusRequiresAction, updates[0].Status)
	assert.Equal(t, "pi_3ds", updates[0].ProcessorReference)
}

func TestWorkflow_CancelWhileAwaiting(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = requiresAction

	req := testutil.NewTestRequest("m_1", 4999, "usd")
	f.start(t, req)

	res := resultOf(t, f.signal(t, req.OrderID, completion.SignalCancel, nil))
	assert.False(t, res.Success)
	assert.Equal(t, payment.StatusFailed, res.Status)
	assert.Equal(t, payment.CodeCancelled, res.ErrorCode)

	updates := f.orders.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, payment.OrderStatusCancelled, updates[1].Status)
}

func TestWorkflow_Timeout(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = requiresAction

	req := testutil.NewTestRequest("m_1", 4999, "usd")
	f.start(t, req)

	f.clock.Advance(14 * time.Minute)
	n, err := f.engine.RunDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Minute)
	n, err = f.engine.RunDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	run, err := f.engine.Get(context.Background(), durable.RunID(completion.Kind, req.OrderID))
	require.NoError(t, err)
	res := resultOf(t, run)
	assert.False(t, res.Success)
	assert.Equal(t, payment.StatusFailed, res.Status)
	assert.Equal(t, payment.CodeTimeout, res.ErrorCode)

	updates := f.orders.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, payment.OrderStatusFailed, updates[1].Status)
	assert.Equal(t, payment.CodeTimeout, updates[1].ErrorCode)
}

func TestWorkflow_CompletionSignal(t *testing.T) {
	tests := []struct {
		name    string
		signal  payment.CompletionSignal
		success bool
		status  payment.OrderStatus
		code    string
	}{
		{"success", payment.CompletionSignal{Success: true, ProcessorTransactionReference: "ch_1"}, true, payment.OrderStatusCaptured, ""},
		{"failure", payment.CompletionSignal{Success: false, ProcessorTransactionReference: "ch_2"}, false, payment.OrderStatusFailed, payment.CodePaymentFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gateway.SubmitFunc = requiresAction
			req := testutil.NewTestRequest("m_1", 4999, "usd")
			f.start(t, req)

			res := resultOf(t, f.signal(t, req.OrderID, completion.SignalComplete, tt.signal))
			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, tt.code, res.ErrorCode)
			assert.Equal(t, "pi_3ds", res.ProcessorOrderID)
			assert.Equal(t, tt.signal.ProcessorTransactionReference, res.ProcessorTransactionID)

			updates := f.orders.Updates()
			require.Len(t, updates, 2)
			assert.Equal(t, tt.status, updates[1].Status)
			assert.Equal(t, tt.signal.ProcessorTransactionReference, updates[1].ProcessorTransactionReference)
		})
	}
}

func TestWorkflow_DuplicateCompletionIgnored(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = requiresAction
	req := testutil.NewTestRequest("m_1", 4999, "usd")
	f.start(t, req)

	first := resultOf(t, f.signal(t, req.OrderID, completion.SignalComplete, payment.CompletionSignal{Success: true, ProcessorTransactionReference: "ch_1"}))
	second := resultOf(t, f.signal(t, req.OrderID, completion.SignalComplete, payment.CompletionSignal{Success: false}))

	assert.Equal(t, first, second)
	assert.True(t, second.Success)
	assert.Len(t, f.orders.Updates(), 2)
}

func TestWorkflow_LateSignalsAfterTimeoutIgnored(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = requiresAction
	req := testutil.NewTestRequest("m_1", 4999, "usd")
	f.start(t, req)

	f.clock.Advance(16 * time.Minute)
	_, err := f.engine.RunDue(context.Background(), 10)
	require.NoError(t, err)

	res := resultOf(t, f.signal(t, req.OrderID, completion.SignalComplete, payment.CompletionSignal{Success: true}))
	assert.Equal(t, payment.CodeTimeout, res.ErrorCode)

	res = resultOf(t, f.signal(t, req.OrderID, completion.SignalCancel, nil))
	assert.Equal(t, payment.CodeTimeout, res.ErrorCode)
	assert.Len(t, f.orders.Updates(), 2)
}

func TestWorkflow_CancelOutranksBufferedCompletion(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = requiresAction
	req := testutil.NewTestRequest("m_1", 4999, "usd")
	ctx := context.Background()

	// both signals arrive before the run first executes
	run, _, err := f.engine.Enqueue(ctx, completion.Kind, req.OrderID, req)
	require.NoError(t, err)
	f.signal(t, req.OrderID, completion.SignalComplete, payment.CompletionSignal{Success: true})
	f.signal(t, req.OrderID, completion.SignalCancel, nil)

	run, err = f.engine.Resume(ctx, run.ID)
	require.NoError(t, err)
	res := resultOf(t, run)
	assert.Equal(t, payment.CodeCancelled, res.ErrorCode)
}

func TestWorkflow_MissingMerchantConfig(t *testing.T) {
	f := newFixture(t)
	req := testutil.NewTestRequest("m_unknown", 4999, "usd")

	res := resultOf(t, f.start(t, req))
	assert.False(t, res.Success)
	assert.Equal(t, payment.CodeNoProcessorConfig, res.ErrorCode)
	assert.Empty(t, f.gateway.Calls())

	updates := f.orders.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, payment.OrderStatusFailed, updates[0].Status)
}

func TestWorkflow_GatewayRejection(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = func(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
		return payment.Outcome{}, domainErrors.NewDomainError("card_declined", "Your card was declined.", domainErrors.ErrGatewayRejection)
	}

	res := resultOf(t, f.start(t, testutil.NewTestRequest("m_1", 4999, "usd")))
	assert.Equal(t, payment.StatusFailed, res.Status)
	assert.Equal(t, "card_declined", res.ErrorCode)
	assert.Equal(t, "Your card was declined.", res.ErrorMessage)
}

func TestWorkflow_GatewayErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = func(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
		return payment.Outcome{}, errors.New("tls handshake failed")
	}

	res := resultOf(t, f.start(t, testutil.NewTestRequest("m_1", 4999, "usd")))
	assert.Equal(t, payment.CodeWorkflowError, res.ErrorCode)
	assert.Equal(t, "tls handshake failed", res.ErrorMessage)

	updates := f.orders.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, payment.OrderStatusFailed, updates[0].Status)
	assert.Len(t, f.gateway.Calls(), 1)
}

func TestWorkflow_UnknownGatewayStatus(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = func(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
		return payment.Outcome{Status: "authorized"}, nil
	}

	res := resultOf(t, f.start(t, testutil.NewTestRequest("m_1", 4999, "usd")))
	assert.Equal(t, payment.CodeWorkflowError, res.ErrorCode)
}

func TestWorkflow_PersistFailureSurfaced(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = func(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
		return payment.Outcome{Success: true, Status: payment.StatusCaptured, ProcessorReference: "pi_1"}, nil
	}
	f.orders.PersistOrderStatusFunc = func(ctx context.Context, update payment.OrderStatusUpdate) error {
		return errors.New("connection reset")
	}

	req := testutil.NewTestRequest("m_1", 4999, "usd")
	run, err := f.engine.Start(context.Background(), completion.Kind, req.OrderID, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, durable.IsHandlerError(err))

	res := resultOf(t, run)
	assert.True(t, res.Success)
	assert.Equal(t, payment.StatusCaptured, res.Status)
	assert.Contains(t, run.Error, "connection reset")
}

func TestWorkflow_GatewayCalledOnceAcrossResumes(t *testing.T) {
	f := newFixture(t)
	f.gateway.SubmitFunc = requiresAction
	req := testutil.NewTestRequest("m_1", 4999, "usd")
	ctx := context.Background()

	f.start(t, req)
	for i := 0; i < 3; i++ {
		_, err := f.engine.Resume(ctx, durable.RunID(completion.Kind, req.OrderID))
		require.NoError(t, err)
	}
	f.signal(t, req.OrderID, completion.SignalComplete, payment.CompletionSignal{Success: true})

	assert.Len(t, f.gateway.Calls(), 1)
	assert.Len(t, f.orders.Updates(), 2)
}

func TestWorkflow_ConfirmationTimeoutOption(t *testing.T) {
	clock := testutil.NewClock()
	engine := durable.New(durable.NewMemoryStore(), durable.WithClock(clock.Now))
	merchants := testutil.NewMockMerchantRepository()
	merchants.AddConfig(testutil.NewTestMerchantConfig("m_1"))
	completion.NewWorkflow(merchants, &testutil.MockGateway{SubmitFunc: requiresAction}, testutil.NewMockOrderRepository(),
		completion.WithConfirmationTimeout(time.Minute),
	).Register(engine)

	req := testutil.NewTestRequest("m_1", 1, "usd")
	run, err := engine.Start(context.Background(), completion.Kind, req.OrderID, req)
	require.NoError(t, err)
	require.NotNil(t, run.WakeAt)
	assert.Equal(t, clock.Now().Add(time.Minute), *run.WakeAt)
}

func TestWorkflow_CancelDuringGatewayCall(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.gateway.SubmitFunc = func(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
		close(entered)
		<-release
		return requiresAction(ctx, req, cfg)
	}

	req := testutil.NewTestRequest("m_1", 4999, "usd")
	type outcome struct {
		run *durable.Run
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		run, err := f.engine.Start(context.Background(), completion.Kind, req.OrderID, req)
		done <- outcome{run, err}
	}()
	<-entered

	// the executing run holds its lock for the whole gateway call
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	run, err := f.engine.Signal(ctx, durable.RunID(completion.Kind, req.OrderID), completion.SignalCancel, nil, "")
	require.NoError(t, err)
	require.Len(t, run.Signals, 1)

	close(release)
	got := <-done
	require.NoError(t, got.err)

	res := resultOf(t, got.run)
	assert.Equal(t, payment.CodeCancelled, res.ErrorCode)
	assert.Len(t, f.gateway.Calls(), 1)

	updates := f.orders.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, payment.OrderStatusCancelled, updates[1].Status)
}

func TestWorkflow_JournalOmitsCredentials(t *testing.T) {
	f := newFixture(t)
	var seen map[string]string
	f.gateway.SubmitFunc = func(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
		seen = cfg.Credentials
		return payment.Outcome{Success: true, Status: payment.StatusCaptured, ProcessorReference: "pi_1"}, nil
	}

	run := f.start(t, testutil.NewTestRequest("m_1", 4999, "usd"))
	resultOf(t, run)
	assert.Equal(t, "sk_test_123", seen["api_key"])

	journal, err := json.Marshal(run)
	require.NoError(t, err)
	assert.NotContains(t, string(journal), "sk_test_123")
	assert.Contains(t, string(journal), `"processor":"mock"`)
}

func TestWorkflow_UndecodableInputPersistsFailure(t *testing.T) {
	f := newFixture(t)

	run, err := f.engine.Start(context.Background(), completion.Kind, "ord_bad", "not a payment request")
	require.Error(t, err)
	assert.True(t, durable.IsHandlerError(err))

	res := resultOf(t, run)
	assert.Equal(t, payment.CodeWorkflowError, res.ErrorCode)
	assert.Empty(t, f.gateway.Calls())

	updates := f.orders.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "ord_bad", updates[0].OrderID)
	assert.Equal(t, payment.OrderStatusFailed, updates[0].Status)
}
