package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/cassiomorais/payflow/internal/application/completion"
	"github.com/cassiomorais/payflow/internal/application/delivery"
	"github.com/cassiomorais/payflow/internal/infrastructure/config"
	"github.com/cassiomorais/payflow/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/payflow/internal/infrastructure/redis"
	"github.com/cassiomorais/payflow/internal/providers"
	"github.com/cassiomorais/payflow/internal/repository/postgres"
	"github.com/cassiomorais/payflow/pkg/durable"
)

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, serviceName, os.Stdout)
	logger.Info().Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := observability.Shutdown(shutdownCtx, tp); err != nil {
					logger.Warn().Err(err).Msg("Failed to flush traces")
				}
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)
	logger.Info().Msg("Metrics initialized")

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: metrics,
	}, nil
}

// Components are the repositories and the run engine shared by the API and the worker.
type Components struct {
	Engine      *durable.Engine
	Orders      *postgres.OrderRepository
	Merchants   *postgres.MerchantRepository
	Attempts    *postgres.WebhookAttemptRepository
	Outbox      *postgres.OutboxRepository
	Idempotency *postgres.IdempotencyRepository
	TxManager   *postgres.TxManager
	Producer    *infraRedis.StreamProducer
}

// Components builds the engine with both workflows registered.
func (a *App) Components() *Components {
	cfg := a.Config
	txManager := postgres.NewTxManager(a.Pool)
	outboxRepo := postgres.NewOutboxRepository(a.Pool)
	orders := postgres.NewOrderRepository(a.Pool, txManager, outboxRepo)
	merchants := postgres.NewMerchantRepository(a.Pool)
	attempts := postgres.NewWebhookAttemptRepository(a.Pool)

	engine := durable.New(postgres.NewRunStore(a.Pool),
		durable.WithLocker(infraRedis.NewRunLocker(a.Redis, cfg.Workflow.LockTTL, a.Logger)),
		durable.WithObserver(a.Metrics),
		durable.WithLogger(a.Logger),
		durable.WithTracer(otel.Tracer("payflow/durable")),
	)

	gateway := providers.NewDefaultFactory(cfg.Gateway.MockLatency,
		providers.WithBreakerSettings(providers.BreakerSettings{
			Threshold: cfg.Gateway.CircuitBreakerThreshold,
			Timeout:   cfg.Gateway.CircuitBreakerTimeout,
			Interval:  cfg.Gateway.CircuitBreakerInterval,
		}),
		providers.WithRecorder(a.Metrics),
	)
	completion.NewWorkflow(merchants, gateway, orders,
		completion.WithConfirmationTimeout(cfg.Workflow.ConfirmationTimeout),
	).Register(engine)

	sender := delivery.NewHTTPSender(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)})
	deliverer := delivery.NewDeliverer(attempts, sender,
		delivery.WithRequestTimeout(cfg.Webhook.RequestTimeout),
		delivery.WithMaxAttempts(cfg.Webhook.MaxAttempts),
		delivery.WithAttemptObserver(a.Metrics),
		delivery.WithLogger(a.Logger),
	)
	delivery.NewWorkflow(deliverer, merchants, attempts).Register(engine)

	return &Components{
		Engine:      engine,
		Orders:      orders,
		Merchants:   merchants,
		Attempts:    attempts,
		Outbox:      outboxRepo,
		Idempotency: postgres.NewIdempotencyRepository(a.Pool),
		TxManager:   txManager,
		Producer:    infraRedis.NewStreamProducer(a.Redis),
	}
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}
