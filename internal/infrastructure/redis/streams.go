package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	PaymentStream = "payments:completion"
	WebhookStream = "webhooks:delivery"
	DLQStream     = "payments:dlq"
)

// StreamMessage is a decoded stream entry
type StreamMessage struct {
	ID        string
	Key       string
	EventType string
	Reason    string
	Payload   json.RawMessage
	Timestamp time.Time
}

// Decode unmarshals the payload into v
func (m StreamMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(m.Payload, v)
}

// ParseMessage extracts the fields written by StreamProducer.
func ParseMessage(msg redis.XMessage) (StreamMessage, error) {
	out := StreamMessage{ID: msg.ID}
	out.Key = stringValue(msg.Values, "key")
	if out.Key == "" {
		return out, fmt.Errorf("message %s has no key", msg.ID)
	}
	out.EventType = stringValue(msg.Values, "event_type")
	out.Reason = stringValue(msg.Values, "reason")
	if payload := stringValue(msg.Values, "payload"); payload != "" {
		out.Payload = json.RawMessage(payload)
	}
	if ts := stringValue(msg.Values, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			out.Timestamp = parsed
		}
	}
	return out, nil
}

func stringValue(values map[string]any, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

type StreamProducer struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewStreamProducer(client redis.Cmdable) *StreamProducer {
	return &StreamProducer{client: client, now: time.Now}
}

// PublishPaymentEvent publishes an order event that starts or drives a completion run.
func (p *StreamProducer) PublishPaymentEvent(ctx context.Context, orderID string, eventType string, data map[string]any) error {
	if err := p.publish(ctx, PaymentStream, map[string]any{
		"key":        orderID,
		"event_type": eventType,
	}, data); err != nil {
		return fmt.Errorf("failed to publish payment event: %w", err)
	}
	return nil
}

// PublishWebhookEvent publishes a notification to be delivered by a webhook run.
func (p *StreamProducer) PublishWebhookEvent(ctx context.Context, eventID string, data map[string]any) error {
	if err := p.publish(ctx, WebhookStream, map[string]any{"key": eventID}, data); err != nil {
		return fmt.Errorf("failed to publish webhook event: %w", err)
	}
	return nil
}

func (p *StreamProducer) PublishToDLQ(ctx context.Context, key string, reason string, originalData map[string]any) error {
	if err := p.publish(ctx, DLQStream, map[string]any{
		"key":    key,
		"reason": reason,
	}, originalData); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

func (p *StreamProducer) publish(ctx context.Context, stream string, values map[string]any, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	values["payload"] = string(payload)
	values["timestamp"] = p.now().UTC().Format(time.RFC3339Nano)

	return p.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err()
}

type StreamConsumer struct {
	client        redis.Cmdable
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client redis.Cmdable,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string {
	return c.stream
}

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	// Create stream if it doesn't exist
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No new messages
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.stream, c.group, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// ClaimStale takes over messages another consumer read but never acknowledged.
func (c *StreamConsumer) ClaimStale(ctx context.Context, minIdleTime time.Duration) ([]redis.XMessage, error) {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdleTime,
		Start:    "0-0",
		Count:    c.batchSize,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}

	return messages, nil
}
