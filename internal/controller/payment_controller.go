package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cassiomorais/payflow/internal/domain/payment"
	customMW "github.com/cassiomorais/payflow/internal/middleware"
	"github.com/cassiomorais/payflow/internal/service"
)

// PaymentController handles payment-related HTTP requests.
type PaymentController struct {
	paymentService *service.PaymentService
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{paymentService: paymentService}
}

// CreatePayment handles POST /api/v1/payments
func (h *PaymentController) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	view, created, err := h.paymentService.CreatePayment(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, FromPaymentView(view))
}

// GetPayment handles GET /api/v1/payments/{orderId}
func (h *PaymentController) GetPayment(w http.ResponseWriter, r *http.Request) {
	view, err := h.paymentService.GetPayment(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPaymentView(view))
}

// CompletePayment handles POST /api/v1/payments/{orderId}/complete
func (h *PaymentController) CompletePayment(w http.ResponseWriter, r *http.Request) {
	var req CompletePaymentRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	dedupID := req.SignalID
	if dedupID == "" {
		dedupID = r.Header.Get("Idempotency-Key")
	}

	view, err := h.paymentService.CompletePayment(r.Context(), chi.URLParam(r, "orderId"), payment.CompletionSignal{
		Success:                       *req.Success,
		ProcessorTransactionReference: req.ProcessorTransactionReference,
	}, dedupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPaymentView(view))
}

// CancelPayment handles POST /api/v1/payments/{orderId}/cancel
func (h *PaymentController) CancelPayment(w http.ResponseWriter, r *http.Request) {
	operator, _ := customMW.GetOperator(r.Context())
	view, err := h.paymentService.CancelPayment(r.Context(), chi.URLParam(r, "orderId"), operator, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPaymentView(view))
}
