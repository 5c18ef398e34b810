package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cassiomorais/payflow/internal/domain/webhook"
	"github.com/cassiomorais/payflow/pkg/signature"
)

const (
	DefaultRequestTimeout = 30 * time.Second

	msgMaxAttempts = "Max attempts reached"
)

// AttemptObserver receives one event per delivery attempt.
type AttemptObserver interface {
	WebhookAttempt(result string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) WebhookAttempt(string, time.Duration) {}

// Deliverer performs single webhook delivery attempts and keeps the attempt record current.
type Deliverer struct {
	attempts    webhook.AttemptStore
	sender      Sender
	now         func() time.Time
	timeout     time.Duration
	maxAttempts int
	observer    AttemptObserver
	logger      zerolog.Logger
}

type DelivererOption func(*Deliverer)

func WithClock(now func() time.Time) DelivererOption {
	return func(d *Deliverer) { d.now = now }
}

func WithRequestTimeout(t time.Duration) DelivererOption {
	return func(d *Deliverer) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithMaxAttempts(n int) DelivererOption {
	return func(d *Deliverer) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithAttemptObserver(o AttemptObserver) DelivererOption {
	return func(d *Deliverer) { d.observer = o }
}

func WithLogger(l zerolog.Logger) DelivererOption {
	return func(d *Deliverer) { d.logger = l }
}

func NewDeliverer(attempts webhook.AttemptStore, sender Sender, opts ...DelivererOption) *Deliverer {
	d := &Deliverer{
		attempts:    attempts,
		sender:      sender,
		now:         time.Now,
		timeout:     DefaultRequestTimeout,
		maxAttempts: webhook.MaxAttempts,
		observer:    nopObserver{},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MaxAttempts returns the attempt bound of this deliverer
func (d *Deliverer) MaxAttempts() int {
	return d.maxAttempts
}

// Deliver makes one attempt. Ordinary HTTP failures are reported in the result,
// not as errors. An error with a zero Attempts result means no attempt was
// made; an error with a non-zero Attempts result means the attempt happened
// but its record could not be written.
func (d *Deliverer) Deliver(ctx context.Context, req webhook.DeliveryRequest) (webhook.DeliveryResult, error) {
	if err := req.Validate(); err != nil {
		return webhook.DeliveryResult{}, err
	}

	count, err := d.attempts.AttemptCount(ctx, req.EventID)
	if err != nil {
		return webhook.DeliveryResult{}, fmt.Errorf("read attempt count: %w", err)
	}
	if count >= d.maxAttempts {
		if err := d.attempts.MarkFailed(ctx, req.EventID, msgMaxAttempts); err != nil {
			return webhook.DeliveryResult{}, fmt.Errorf("mark exhausted delivery failed: %w", err)
		}
		return webhook.DeliveryResult{Attempts: count, ErrorMessage: msgMaxAttempts}, nil
	}

	attempt := count + 1
	now := d.now()
	logger := d.logger.With().Str("event_id", req.EventID).Int("attempt", attempt).Logger()

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(signature.HeaderEventID, req.EventID)
	header.Set(signature.HeaderTimestamp, strconv.FormatInt(now.UnixMilli(), 10))
	if req.Secret != "" {
		sig, err := signature.Sign(req.Secret, now, req.Payload)
		if err != nil {
			return webhook.DeliveryResult{}, fmt.Errorf("sign payload: %w", err)
		}
		header.Set(signature.HeaderSignature, sig.String())
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	start := time.Now()
	status, sendErr := d.sender.Send(sendCtx, req.URL, header, req.Payload)
	elapsed := time.Since(start)
	cancel()

	update := webhook.AttemptUpdate{
		EventID:       req.EventID,
		URL:           req.URL,
		Payload:       req.Payload,
		AttemptCount:  attempt,
		LastAttemptAt: now,
	}
	result := webhook.DeliveryResult{Attempts: attempt}
	if sendErr == nil {
		code := status
		update.StatusCode = &code
		result.StatusCode = &code
	}

	if sendErr == nil && status >= 200 && status < 300 {
		deliveredAt := d.now()
		update.Status = webhook.StatusDelivered
		update.DeliveredAt = &deliveredAt
		result.Success = true
		result.DeliveredAt = &deliveredAt
		d.observer.WebhookAttempt(string(webhook.StatusDelivered), elapsed)
		logger.Info().Int("status_code", status).Msg("webhook delivered")
	} else {
		msg := d.failureMessage(status, sendErr)
		update.Error = msg
		result.ErrorMessage = msg
		if attempt < d.maxAttempts {
			next := now.Add(webhook.Backoff(attempt))
			update.Status = webhook.StatusPending
			update.NextRetryAt = &next
		} else {
			update.Status = webhook.StatusFailed
		}
		d.observer.WebhookAttempt(string(update.Status), elapsed)
		logger.Warn().Str("error", msg).Str("status", string(update.Status)).Msg("webhook attempt failed")
	}

	if err := d.attempts.RecordAttempt(ctx, update); err != nil {
		logger.Error().Err(err).Msg("failed to persist webhook attempt")
		return result, fmt.Errorf("persist attempt %d: %w", attempt, err)
	}
	return result, nil
}

func (d *Deliverer) failureMessage(status int, err error) string {
	if err == nil {
		return fmt.Sprintf("unexpected status code %d", status)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("request timed out after %s", d.timeout)
	}
	return err.Error()
}
