package service

import (
	"context"

	"github.com/cassiomorais/payflow/pkg/durable"
)

// RunEngine is the part of the durable engine the services drive.
// *durable.Engine satisfies it.
type RunEngine interface {
	Enqueue(ctx context.Context, kind, key string, input any) (*durable.Run, bool, error)
	Resume(ctx context.Context, id string) (*durable.Run, error)
	Get(ctx context.Context, id string) (*durable.Run, error)
	Signal(ctx context.Context, id, name string, payload any, dedupID string) (*durable.Run, error)
}

// EventPublisher hands work to the worker through the event streams.
type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, orderID, eventType string, data map[string]any) error
	PublishWebhookEvent(ctx context.Context, eventID string, data map[string]any) error
	PublishToDLQ(ctx context.Context, key, reason string, data map[string]any) error
}
