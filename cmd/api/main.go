package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/payflow/internal/bootstrap"
	"github.com/cassiomorais/payflow/internal/controller"
	"github.com/cassiomorais/payflow/internal/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payflow-api", "payflow")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	c := app.Components()

	// --- Services ---
	paymentSvc := service.NewPaymentService(c.Engine, c.Orders, c.Producer, app.Logger)
	webhookSvc := service.NewWebhookService(c.Engine, c.Attempts, c.Producer, app.Logger)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		PaymentService:   paymentSvc,
		WebhookService:   webhookSvc,
		IdempotencyStore: c.Idempotency,
		IdempotencyTTL:   app.Config.Worker.IdempotencyTTL,
		ReadinessChecks: []controller.ReadinessCheck{
			{Name: "database", Check: app.Pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }},
		},
		Metrics:      app.Metrics,
		ServerConfig: app.Config.Server,
		JWTSecret:    app.Config.Auth.JWTSecret,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
