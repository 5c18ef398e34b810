package controller

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cassiomorais/payflow/internal/infrastructure/config"
	"github.com/cassiomorais/payflow/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/payflow/internal/middleware"
	"github.com/cassiomorais/payflow/internal/service"
)

type RouterDeps struct {
	PaymentService   *service.PaymentService
	WebhookService   *service.WebhookService
	IdempotencyStore customMW.IdempotencyStore
	IdempotencyTTL   time.Duration
	ReadinessChecks  []ReadinessCheck
	Metrics          *observability.Metrics
	// Gatherer serves /metrics; nil uses the default registry
	Gatherer     prometheus.Gatherer
	ServerConfig config.ServerConfig
	JWTSecret    string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.ServerConfig.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.ServerConfig.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.ReadinessChecks...)
	paymentH := NewPaymentController(deps.PaymentService)
	webhookH := NewWebhookController(deps.WebhookService)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if deps.ServerConfig.RateLimit > 0 {
			r.Use(customMW.RateLimit(deps.ServerConfig.RateLimit))
		}

		// Idempotency middleware for mutating endpoints.
		idempotencyMW := customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL)
		authMW := customMW.RequireAuth(deps.JWTSecret)

		// Payments
		r.With(idempotencyMW).Post("/payments", paymentH.CreatePayment)
		r.Get("/payments/{orderId}", paymentH.GetPayment)
		r.Post("/payments/{orderId}/complete", paymentH.CompletePayment)
		r.With(authMW).Post("/payments/{orderId}/cancel", paymentH.CancelPayment)

		// Webhooks
		r.With(idempotencyMW).Post("/webhooks", webhookH.CreateWebhook)
		r.Get("/webhooks/{eventId}", webhookH.GetWebhook)
		r.With(authMW).Post("/webhooks/{eventId}/cancel", webhookH.CancelWebhook)
	})

	return r
}
