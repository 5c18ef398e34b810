package payment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/payment"
)

func TestRequest_Validate(t *testing.T) {
	valid := payment.Request{OrderID: "ord_1", MerchantID: "m_1", Amount: 4999, Currency: "usd"}
	assert.NoError(t, valid.Validate())

	noOrder := valid
	noOrder.OrderID = ""
	var ve *errors.ValidationError
	assert.ErrorAs(t, noOrder.Validate(), &ve)
	assert.Equal(t, "orderId", ve.Field)

	noMerchant := valid
	noMerchant.MerchantID = ""
	assert.Error(t, noMerchant.Validate())

	// amounts are not validated here
	zero := valid
	zero.Amount = 0
	assert.NoError(t, zero.Validate())
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []payment.Status{payment.StatusCaptured, payment.StatusPending, payment.StatusRequiresAction, payment.StatusFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, payment.Status("authorized").Valid())
}

func TestResultFromOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome payment.Outcome
		want    payment.Result
	}{
		{
			name:    "captured",
			outcome: payment.Outcome{Success: true, Status: payment.StatusCaptured, ProcessorReference: "pi_1"},
			want:    payment.Result{Success: true, Status: payment.StatusCaptured, ProcessorOrderID: "pi_1"},
		},
		{
			name:    "captured without success is failed",
			outcome: payment.Outcome{Success: false, Status: payment.StatusCaptured, ProcessorReference: "pi_2"},
			want:    payment.Result{Success: false, Status: payment.StatusFailed, ProcessorOrderID: "pi_2"},
		},
		{
			name:    "gateway failure keeps code",
			outcome: payment.Outcome{Status: payment.StatusFailed, ErrorCode: "card_declined", ErrorMessage: "declined"},
			want:    payment.Result{Status: payment.StatusFailed, ErrorCode: "card_declined", ErrorMessage: "declined"},
		},
		{
			name:    "pending",
			outcome: payment.Outcome{Success: true, Status: payment.StatusPending, ProcessorReference: "pi_3"},
			want:    payment.Result{Success: true, Status: payment.StatusPending, ProcessorOrderID: "pi_3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, payment.ResultFromOutcome(tt.outcome))
		})
	}
}

func TestResult_OrderStatus(t *testing.T) {
	assert.Equal(t, payment.OrderStatusCaptured, payment.Result{Success: true, Status: payment.StatusCaptured}.OrderStatus())
	assert.Equal(t, payment.OrderStatusPending, payment.Result{Success: true, Status: payment.StatusPending}.OrderStatus())
	assert.Equal(t, payment.OrderStatusCancelled, payment.Failed(payment.CodeCancelled, "").OrderStatus())
	assert.Equal(t, payment.OrderStatusFailed, payment.Failed(payment.CodeTimeout, "").OrderStatus())
	assert.Equal(t, payment.OrderStatusFailed, payment.Failed(payment.CodeWorkflowError, "boom").OrderStatus())
}

func TestOrderStatus_ShouldNotify(t *testing.T) {
	assert.False(t, payment.OrderStatusRequiresAction.ShouldNotify())
	assert.True(t, payment.OrderStatusCaptured.ShouldNotify())
	assert.True(t, payment.OrderStatusCancelled.ShouldNotify())
	assert.True(t, payment.OrderStatusPending.ShouldNotify())
}
