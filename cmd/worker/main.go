package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cassiomorais/payflow/internal/bootstrap"
	"github.com/cassiomorais/payflow/internal/domain/payment"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
	"github.com/cassiomorais/payflow/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/payflow/internal/infrastructure/redis"
	"github.com/cassiomorais/payflow/internal/service"
	"github.com/cassiomorais/payflow/pkg/durable"
	"github.com/cassiomorais/payflow/pkg/retry"
)

// messageHandler runs the workflow a stream message asks for
type messageHandler func(ctx context.Context, msg infraRedis.StreamMessage) error

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payflow-worker", "payflow_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	c := app.Components()
	paymentSvc := service.NewPaymentService(c.Engine, c.Orders, c.Producer, app.Logger)
	webhookSvc := service.NewWebhookService(c.Engine, c.Attempts, c.Producer, app.Logger)
	relay := service.NewOutboxRelay(c.Outbox, c.TxManager, c.Producer, app.Logger,
		service.WithOutboxRecorder(app.Metrics),
		service.WithBatchSize(int(app.Config.Worker.BatchSize)),
	)

	workerCfg := app.Config.Worker
	paymentConsumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.PaymentStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	webhookConsumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.WebhookStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	for _, consumer := range []*infraRedis.StreamConsumer{paymentConsumer, webhookConsumer} {
		if err := consumer.CreateGroup(ctx); err != nil {
			app.Logger.Error().Err(err).Str("stream", consumer.Stream()).Msg("Failed to create consumer group")
		}
	}

	invokePolicy := retry.Policy{
		MaxAttempts:  app.Config.Workflow.InvokeMaxAttempts,
		InitialDelay: app.Config.Workflow.InvokeRetryDelay,
		MaxDelay:     10 * app.Config.Workflow.InvokeRetryDelay,
		// A failed workflow already reached a terminal state. Locked or
		// diverged runs are being executed elsewhere.
		Retryable: func(err error) bool {
			return !durable.IsHandlerError(err) && !errors.Is(err, durable.ErrLocked) && !errors.Is(err, durable.ErrDiverged)
		},
	}

	handlePayment := func(ctx context.Context, msg infraRedis.StreamMessage) error {
		if msg.EventType != service.EventPaymentRequested {
			return nil
		}
		var req payment.Request
		if err := msg.Decode(&req); err != nil {
			return fmt.Errorf("decode payment request: %w", err)
		}
		_, err := paymentSvc.ProcessPayment(ctx, req)
		return err
	}
	handleWebhook := func(ctx context.Context, msg infraRedis.StreamMessage) error {
		var n webhook.Notification
		if err := msg.Decode(&n); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		if n.EventID == "" {
			n.EventID = msg.Key
		}
		_, err := webhookSvc.ProcessNotification(ctx, n)
		return err
	}

	app.Logger.Info().
		Strs("streams", []string{infraRedis.PaymentStream, infraRedis.WebhookStream}).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for messages...")

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)
	p := &processor{logger: app.Logger, metrics: app.Metrics, dlq: c.Producer, policy: invokePolicy}

	// 1. Stream consumers.
	g.Go(func() error { return p.consume(gCtx, paymentConsumer, handlePayment) })
	g.Go(func() error { return p.consume(gCtx, webhookConsumer, handleWebhook) })

	// 2. Reclaim messages left pending by crashed workers.
	g.Go(func() error {
		return p.reclaim(gCtx, workerCfg.ClaimMinIdle, map[*infraRedis.StreamConsumer]messageHandler{
			paymentConsumer: handlePayment,
			webhookConsumer: handleWebhook,
		})
	})

	// 3. Outbox relay (polls outbox table and publishes webhook events).
	g.Go(func() error {
		return every(gCtx, workerCfg.OutboxPollInterval, func() {
			if _, err := relay.ProcessBatch(gCtx); err != nil {
				app.Logger.Error().Err(err).Msg("Outbox relay error")
			}
		})
	})

	// 4. Due runs: retry timers, confirmation timeouts and lost stream messages.
	g.Go(func() error {
		return every(gCtx, app.Config.Workflow.DuePollInterval, func() {
			n, err := c.Engine.RunDue(gCtx, app.Config.Workflow.DueBatchSize)
			if err != nil {
				app.Logger.Error().Err(err).Msg("Due run poller error")
			}
			if n > 0 {
				app.Logger.Debug().Int("runs", n).Msg("Resumed due runs")
			}
		})
	})

	// 5. Expired idempotency keys.
	g.Go(func() error {
		return every(gCtx, time.Hour, func() {
			n, err := c.Idempotency.Cleanup(gCtx)
			if err != nil {
				app.Logger.Error().Err(err).Msg("Idempotency cleanup failed")
				return
			}
			app.Logger.Info().Int64("removed", n).Msg("Idempotency keys cleaned up")
		})
	})

	// 6. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

type processor struct {
	logger  zerolog.Logger
	metrics *observability.Metrics
	dlq     service.EventPublisher
	policy  retry.Policy
}

func (p *processor) consume(ctx context.Context, consumer *infraRedis.StreamConsumer, handle messageHandler) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			p.logger.Error().Err(err).Str("stream", consumer.Stream()).Int("failures", failures).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry.ExponentialDelay(failures, time.Second, 30*time.Second)):
			}
			continue
		}
		failures = 0
		for _, msg := range messages {
			p.process(ctx, consumer, msg, handle)
		}
	}
}

func (p *processor) reclaim(ctx context.Context, minIdle time.Duration, consumers map[*infraRedis.StreamConsumer]messageHandler) error {
	return every(ctx, minIdle, func() {
		for consumer, handle := range consumers {
			messages, err := consumer.ClaimStale(ctx, minIdle)
			if err != nil {
				p.logger.Error().Err(err).Str("stream", consumer.Stream()).Msg("Failed to claim stale messages")
				continue
			}
			for _, msg := range messages {
				p.process(ctx, consumer, msg, handle)
			}
		}
	})
}

// process handles one message and acknowledges it. Messages that cannot be
// processed are parked on the dead letter stream.
func (p *processor) process(ctx context.Context, consumer *infraRedis.StreamConsumer, raw redis.XMessage, handle messageHandler) {
	start := time.Now()
	stream := consumer.Stream()
	logger := p.logger.With().Str("stream", stream).Str("message_id", raw.ID).Logger()

	status := "success"
	msg, err := infraRedis.ParseMessage(raw)
	if err == nil {
		err = retry.Do(ctx, p.withLogging(logger), func() error { return handle(ctx, msg) })
	}

	switch {
	case err == nil:
	case errors.Is(err, durable.ErrLocked), errors.Is(err, durable.ErrDiverged):
		// The lock holder executes the run; the due poller covers a crash.
		status = "skipped"
		logger.Debug().Str("key", msg.Key).Msg("Run is locked, skipping")
	case ctx.Err() != nil:
		// Left unacknowledged for another consumer to claim
		return
	default:
		status = "error"
		logger.Error().Err(err).Str("key", msg.Key).Msg("Failed to process message")
		if dlqErr := p.dlq.PublishToDLQ(ctx, msg.Key, err.Error(), map[string]any{
			"stream":     stream,
			"message_id": raw.ID,
			"values":     raw.Values,
		}); dlqErr != nil {
			logger.Error().Err(dlqErr).Msg("Failed to publish to DLQ")
		}
	}

	if err := consumer.Ack(ctx, raw.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to ack message")
	}
	p.metrics.WorkerMessage(stream, status, time.Since(start))
}

func (p *processor) withLogging(logger zerolog.Logger) retry.Policy {
	policy := p.policy
	policy.OnRetry = func(attempt uint, err error) {
		logger.Warn().Err(err).Uint("attempt", attempt+1).Msg("Retrying message")
	}
	return policy
}

// every calls fn on each tick until ctx is cancelled
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
