package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cassiomorais/payflow/internal/application/delivery"
	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
	"github.com/cassiomorais/payflow/pkg/durable"
)

// WebhookService enqueues notifications and exposes their delivery state.
type WebhookService struct {
	engine    RunEngine
	attempts  webhook.AttemptRepository
	publisher EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewWebhookService(engine RunEngine, attempts webhook.AttemptRepository, publisher EventPublisher, logger zerolog.Logger) *WebhookService {
	return &WebhookService{
		engine:    engine,
		attempts:  attempts,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// DeliveryView combines the attempt record with the state of its run.
type DeliveryView struct {
	Record   *webhook.AttemptRecord
	RunState durable.State
	Result   *webhook.DeliveryResult
}

// SubmitNotification registers the delivery and hands it to the worker.
// A missing EventID is generated. Resubmitting a known event returns its
// current state with created set to false.
func (s *WebhookService) SubmitNotification(ctx context.Context, n webhook.Notification) (*DeliveryView, bool, error) {
	if n.EventID == "" {
		n.EventID = uuid.NewString()
	}
	run, created, err := s.enqueue(ctx, n)
	if err != nil {
		return nil, false, err
	}

	if created {
		if err := s.publisher.PublishWebhookEvent(ctx, n.EventID, notificationData(n)); err != nil {
			s.logger.Warn().Err(err).Str("event_id", n.EventID).Msg("Failed to publish webhook event")
		}
	}

	view, err := s.view(ctx, n.EventID, run)
	if err != nil {
		return nil, false, err
	}
	return view, created, nil
}

// ProcessNotification registers the delivery if needed and runs it until it
// is delivered, failed or waiting for its next attempt.
func (s *WebhookService) ProcessNotification(ctx context.Context, n webhook.Notification) (*DeliveryView, error) {
	if n.EventID == "" {
		return nil, domainErrors.NewValidationError("eventId", "cannot be empty")
	}
	run, _, err := s.enqueue(ctx, n)
	if err != nil {
		return nil, err
	}
	if !run.State.IsTerminal() {
		resumed, resumeErr := s.engine.Resume(ctx, run.ID)
		if resumed == nil {
			return nil, resumeErr
		}
		run, err = resumed, resumeErr
	}

	view, viewErr := s.view(ctx, n.EventID, run)
	if viewErr != nil {
		return nil, viewErr
	}
	return view, err
}

func (s *WebhookService) enqueue(ctx context.Context, n webhook.Notification) (*durable.Run, bool, error) {
	if n.MerchantID == "" && n.URL == "" {
		return nil, false, domainErrors.NewValidationError("merchantId", "merchantId or url is required")
	}
	if n.URL != "" {
		if err := webhook.ValidateURL(n.URL); err != nil {
			return nil, false, err
		}
	}
	if !json.Valid(n.Payload) {
		return nil, false, domainErrors.ErrInvalidPayload
	}

	if err := s.attempts.Create(ctx, webhook.NewAttemptRecord(n, s.now())); err != nil {
		return nil, false, fmt.Errorf("create attempt record %s: %w", n.EventID, err)
	}
	run, created, err := s.engine.Enqueue(ctx, delivery.Kind, n.EventID, n)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue delivery %s: %w", n.EventID, err)
	}
	return run, created, nil
}

// GetDelivery returns the delivery state of an event.
func (s *WebhookService) GetDelivery(ctx context.Context, eventID string) (*DeliveryView, error) {
	run, err := s.engine.Get(ctx, durable.RunID(delivery.Kind, eventID))
	if err != nil && !errors.Is(err, durable.ErrRunNotFound) {
		return nil, err
	}
	return s.view(ctx, eventID, run)
}

// CancelDelivery stops retries of an event that has not been delivered yet.
func (s *WebhookService) CancelDelivery(ctx context.Context, eventID, operator string) (*DeliveryView, error) {
	s.logger.Info().Str("event_id", eventID).Str("operator", operator).Msg("Delivery cancel requested")
	run, err := s.engine.Signal(ctx, durable.RunID(delivery.Kind, eventID), delivery.SignalCancel,
		map[string]string{"operator": operator}, "cancel:"+eventID)
	if err != nil {
		if !durable.IsHandlerError(err) || run == nil {
			return nil, mapRunError(err)
		}
		s.logger.Warn().Err(err).Str("event_id", eventID).Msg("Delivery run finished with error")
	}
	return s.view(ctx, eventID, run)
}

// view loads the attempt record. run may be nil for records written without a run.
func (s *WebhookService) view(ctx context.Context, eventID string, run *durable.Run) (*DeliveryView, error) {
	rec, err := s.attempts.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	v := &DeliveryView{Record: rec}
	if run == nil {
		return v, nil
	}
	v.RunState = run.State
	if len(run.Output) > 0 {
		var res webhook.DeliveryResult
		if err := run.DecodeOutput(&res); err != nil {
			return nil, fmt.Errorf("decode delivery result: %w", err)
		}
		v.Result = &res
	}
	return v, nil
}

func notificationData(n webhook.Notification) map[string]any {
	return map[string]any{
		"eventId":    n.EventID,
		"merchantId": n.MerchantID,
		"url":        n.URL,
		"payload":    n.Payload,
	}
}
