package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	customMW "github.com/cassiomorais/payflow/internal/middleware"
	"github.com/cassiomorais/payflow/internal/service"
)

type WebhookController struct {
	webhookService *service.WebhookService
}

func NewWebhookController(webhookService *service.WebhookService) *WebhookController {
	return &WebhookController{webhookService: webhookService}
}

// CreateWebhook handles POST /api/v1/webhooks
func (h *WebhookController) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	view, created, err := h.webhookService.SubmitNotification(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, FromDeliveryView(view))
}

// GetWebhook handles GET /api/v1/webhooks/{eventId}
func (h *WebhookController) GetWebhook(w http.ResponseWriter, r *http.Request) {
	view, err := h.webhookService.GetDelivery(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromDeliveryView(view))
}

// CancelWebhook handles POST /api/v1/webhooks/{eventId}/cancel
func (h *WebhookController) CancelWebhook(w http.ResponseWriter, r *http.Request) {
	operator, _ := customMW.GetOperator(r.Context())
	view, err := h.webhookService.CancelDelivery(r.Context(), chi.URLParam(r, "eventId"), operator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromDeliveryView(view))
}
