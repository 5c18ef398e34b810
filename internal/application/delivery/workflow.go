package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/payflow/internal/domain/webhook"
	"github.com/cassiomorais/payflow/pkg/durable"
)

const (
	// Kind is the durable workflow kind of webhook delivery runs
	Kind = "webhook_delivery"

	SignalCancel = "cancel"

	msgCancelled = "Delivery cancelled"
)

// Workflow retries a notification through the Deliverer until it is delivered,
// exhausted or cancelled.
type Workflow struct {
	deliverer    *Deliverer
	destinations webhook.DestinationResolver
	attempts     webhook.AttemptStore
}

func NewWorkflow(deliverer *Deliverer, destinations webhook.DestinationResolver, attempts webhook.AttemptStore) *Workflow {
	return &Workflow{
		deliverer:    deliverer,
		destinations: destinations,
		attempts:     attempts,
	}
}

// Register binds the workflow to the engine under Kind.
func (w *Workflow) Register(e *durable.Engine) {
	e.Register(Kind, w.Run)
}

// Run is the durable handler. It completes with a webhook.DeliveryResult and
// leaves the attempt record delivered or failed.
func (w *Workflow) Run(wf *durable.Context) (any, error) {
	var n webhook.Notification
	if err := wf.Input(&n); err != nil {
		return webhook.DeliveryResult{ErrorMessage: err.Error()}, err
	}
	logger := wf.Logger().With().Str("event_id", n.EventID).Logger()

	// only the target is journaled; the signing secret is looked up per attempt
	target, err := durable.Step(wf, "resolve-destination", func(ctx context.Context) (destinationTarget, error) {
		d, err := w.destinations.ResolveWebhookDestination(ctx, n.MerchantID)
		if err != nil {
			return destinationTarget{}, err
		}
		t := destinationTarget{URL: d.URL, Signed: d.Secret != ""}
		if n.URL != "" {
			t.URL = n.URL
		}
		return t, nil
	})
	if err != nil {
		return w.fail(wf, n.EventID, webhook.DeliveryResult{ErrorMessage: err.Error()})
	}
	logger.Debug().Str("url", target.URL).Bool("signed", target.Signed).Msg("webhook destination resolved")

	var (
		last        webhook.DeliveryResult
		persistErrs []error
	)
	for i := 1; i <= w.deliverer.MaxAttempts(); i++ {
		res, err := durable.Step(wf, fmt.Sprintf("attempt-%d", i), func(ctx context.Context) (webhook.DeliveryResult, error) {
			req, err := w.request(ctx, n, target)
			if err != nil {
				return webhook.DeliveryResult{}, err
			}
			return w.deliverer.Deliver(ctx, req)
		})
		if err != nil {
			if res.Attempts == 0 {
				// no attempt was made: invalid request or unreadable record
				res.Attempts = last.Attempts
				res.ErrorMessage = err.Error()
				return w.fail(wf, n.EventID, res)
			}
			persistErrs = append(persistErrs, err)
		}
		last = res

		if res.Success {
			logger.Info().Int("attempts", res.Attempts).Msg("webhook run delivered")
			return res, errors.Join(persistErrs...)
		}
		if res.Attempts >= w.deliverer.MaxAttempts() {
			break
		}

		sig, err := wf.Await(fmt.Sprintf("backoff-%d", i), webhook.Backoff(res.Attempts), SignalCancel)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			logger.Info().Int("attempts", res.Attempts).Msg("webhook run cancelled")
			return w.fail(wf, n.EventID, webhook.DeliveryResult{
				Attempts:     res.Attempts,
				StatusCode:   res.StatusCode,
				ErrorMessage: msgCancelled,
			})
		}
	}

	final := webhook.DeliveryResult{
		Attempts:     last.Attempts,
		StatusCode:   last.StatusCode,
		ErrorMessage: last.ErrorMessage,
	}
	if final.ErrorMessage == "" {
		final.ErrorMessage = msgMaxAttempts
	}
	logger.Warn().Int("attempts", final.Attempts).Str("error", final.ErrorMessage).Msg("webhook run exhausted")

	// the last attempt already persisted failed unless its write was lost
	if len(persistErrs) > 0 {
		out, err := w.fail(wf, n.EventID, final)
		return out, errors.Join(append(persistErrs, err)...)
	}
	return final, nil
}

type destinationTarget struct {
	URL    string `json:"url"`
	Signed bool   `json:"signed,omitempty"`
}

// request builds the delivery request of one attempt, resolving the secret of
// a signed destination.
func (w *Workflow) request(ctx context.Context, n webhook.Notification, target destinationTarget) (webhook.DeliveryRequest, error) {
	req := webhook.DeliveryRequest{
		EventID: n.EventID,
		URL:     target.URL,
		Payload: n.Payload,
	}
	if !target.Signed {
		return req, nil
	}
	d, err := w.destinations.ResolveWebhookDestination(ctx, n.MerchantID)
	if err != nil {
		return req, fmt.Errorf("resolve signing secret: %w", err)
	}
	req.Secret = d.Secret
	return req, nil
}

// fail persists the failed status once and completes the run with res.
func (w *Workflow) fail(wf *durable.Context, eventID string, res webhook.DeliveryResult) (any, error) {
	res.Success = false
	_, err := durable.Step(wf, "mark-failed", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.attempts.MarkFailed(ctx, eventID, res.ErrorMessage)
	})
	if err != nil {
		return res, fmt.Errorf("persist failed delivery: %w", err)
	}
	return res, nil
}
