package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/cassiomorais/payflow/internal/domain/errors"
	"github.com/cassiomorais/payflow/internal/domain/outbox"
	"github.com/cassiomorais/payflow/internal/domain/payment"
	"github.com/cassiomorais/payflow/internal/domain/webhook"
)

// --- Merchant Repository Mock ---

// MockMerchantRepository implements payment.MerchantConfigResolver and webhook.DestinationResolver.
type MockMerchantRepository struct {
	mu           sync.Mutex
	configs      map[string]*payment.MerchantConfig
	destinations map[string]webhook.Destination

	ResolveMerchantConfigFunc     func(ctx context.Context, merchantID string) (*payment.MerchantConfig, error)
	ResolveWebhookDestinationFunc func(ctx context.Context, merchantID string) (webhook.Destination, error)
}

func NewMockMerchantRepository() *MockMerchantRepository {
	return &MockMerchantRepository{
		configs:      make(map[string]*payment.MerchantConfig),
		destinations: make(map[string]webhook.Destination),
	}
}

func (m *MockMerchantRepository) AddConfig(cfg *payment.MerchantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.MerchantID] = cfg
}

func (m *MockMerchantRepository) AddDestination(merchantID string, d webhook.Destination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destinations[merchantID] = d
}

func (m *MockMerchantRepository) ResolveMerchantConfig(ctx context.Context, merchantID string) (*payment.MerchantConfig, error) {
	if m.ResolveMerchantConfigFunc != nil {
		return m.ResolveMerchantConfigFunc(ctx, merchantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[merchantID], nil
}

func (m *MockMerchantRepository) ResolveWebhookDestination(ctx context.Context, merchantID string) (webhook.Destination, error) {
	if m.ResolveWebhookDestinationFunc != nil {
		return m.ResolveWebhookDestinationFunc(ctx, merchantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destinations[merchantID], nil
}

// --- Gateway Mock ---

// MockGateway is a mock implementation of payment.Gateway.
type MockGateway struct {
	mu    sync.Mutex
	calls []payment.Request

	SubmitFunc func(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error)
}

func (m *MockGateway) Submit(ctx context.Context, req payment.Request, cfg payment.MerchantConfig) (payment.Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req, cfg)
	}
	return payment.Outcome{Success: true, Status: payment.StatusCaptured, ProcessorReference: "pi_mock"}, nil
}

// Calls returns the requests submitted so far
func (m *MockGateway) Calls() []payment.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]payment.Request(nil), m.calls...)
}

// --- Order Repository Mock ---

// MockOrderRepository is a mock implementation of payment.OrderRepository.
type MockOrderRepository struct {
	mu      sync.Mutex
	orders  map[string]*payment.Order
	updates []payment.OrderStatusUpdate

	PersistOrderStatusFunc func(ctx context.Context, update payment.OrderStatusUpdate) error
	GetByIDFunc            func(ctx context.Context, orderID string) (*payment.Order, error)
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{orders: make(map[string]*payment.Order)}
}

func (m *MockOrderRepository) PersistOrderStatus(ctx context.Context, update payment.OrderStatusUpdate) error {
	m.mu.Lock()
	m.updates = append(m.updates, update)
	m.mu.Unlock()
	if m.PersistOrderStatusFunc != nil {
		return m.PersistOrderStatusFunc(ctx, update)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	o, ok := m.orders[update.OrderID]
	if !ok {
		o = &payment.Order{ID: update.OrderID, MerchantID: update.MerchantID, CreatedAt: now}
		m.orders[update.OrderID] = o
	}
	o.Status = update.Status
	if update.ProcessorReference != "" {
		o.ProcessorReference = update.ProcessorReference
	}
	if update.ProcessorTransactionReference != "" {
		o.ProcessorTransactionReference = update.ProcessorTransactionReference
	}
	o.ErrorCode = update.ErrorCode
	o.UpdatedAt = now
	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, orderID string) (*payment.Order, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

// Updates returns every PersistOrderStatus call in order, including failed ones
func (m *MockOrderRepository) Updates() []payment.OrderStatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]payment.OrderStatusUpdate(nil), m.updates...)
}

// --- Webhook Attempt Repository Mock ---

// MockAttemptRepository is an in-memory webhook.AttemptRepository.
type MockAttemptRepository struct {
	mu      sync.Mutex
	records map[string]*webhook.AttemptRecord
	history []webhook.AttemptUpdate

	AttemptCountFunc  func(ctx context.Context, eventID string) (int, error)
	RecordAttemptFunc func(ctx context.Context, update webhook.AttemptUpdate) error
	MarkFailedFunc    func(ctx context.Context, eventID, reason string) error
	CreateFunc        func(ctx context.Context, rec *webhook.AttemptRecord) error
	GetFunc           func(ctx context.Context, eventID string) (*webhook.AttemptRecord, error)
}

func NewMockAttemptRepository() *MockAttemptRepository {
	return &MockAttemptRepository{records: make(map[string]*webhook.AttemptRecord)}
}

func (m *MockAttemptRepository) AttemptCount(ctx context.Context, eventID string) (int, error) {
	if m.AttemptCountFunc != nil {
		return m.AttemptCountFunc(ctx, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[eventID]; ok {
		return r.AttemptCount, nil
	}
	return 0, nil
}

func (m *MockAttemptRepository) RecordAttempt(ctx context.Context, u webhook.AttemptUpdate) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, u)
	r, ok := m.records[u.EventID]
	if !ok {
		r = &webhook.AttemptRecord{EventID: u.EventID, CreatedAt: u.LastAttemptAt}
		m.records[u.EventID] = r
	}
	r.URL = u.URL
	r.Payload = u.Payload
	r.AttemptCount = u.AttemptCount
	r.Status = u.Status
	at := u.LastAttemptAt
	r.LastAttemptAt = &at
	r.NextRetryAt = u.NextRetryAt
	r.DeliveredAt = u.DeliveredAt
	r.LastStatusCode = u.StatusCode
	r.LastError = u.Error
	r.UpdatedAt = u.LastAttemptAt
	return nil
}

func (m *MockAttemptRepository) MarkFailed(ctx context.Context, eventID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, eventID, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[eventID]
	if !ok {
		r = &webhook.AttemptRecord{EventID: eventID}
		m.records[eventID] = r
	}
	r.Status = webhook.StatusFailed
	r.NextRetryAt = nil
	r.LastError = reason
	return nil
}

func (m *MockAttemptRepository) Create(ctx context.Context, rec *webhook.AttemptRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.EventID]; ok {
		return nil
	}
	cp := *rec
	m.records[rec.EventID] = &cp
	return nil
}

func (m *MockAttemptRepository) Get(ctx context.Context, eventID string) (*webhook.AttemptRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[eventID]
	if !ok {
		return nil, domainErrors.ErrAttemptNotFound
	}
	cp := *r
	return &cp, nil
}

// History returns every recorded attempt update in order
func (m *MockAttemptRepository) History() []webhook.AttemptUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webhook.AttemptUpdate(nil), m.history...)
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is a mock implementation of outbox.Repository.
type MockOutboxRepository struct {
	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID, reason string) error
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, reason)
	}
	return nil
}

// --- Event Publisher Mock ---

// PublishedEvent is one message captured by MockEventPublisher
type PublishedEvent struct {
	Stream string
	Key    string
	Type   string
	Data   map[string]any
}

// MockEventPublisher captures stream publishes.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent

	PublishPaymentEventFunc func(ctx context.Context, orderID, eventType string, data map[string]any) error
	PublishWebhookEventFunc func(ctx context.Context, eventID string, data map[string]any) error
	PublishToDLQFunc        func(ctx context.Context, key, reason string, data map[string]any) error
}

func (m *MockEventPublisher) record(e PublishedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *MockEventPublisher) PublishPaymentEvent(ctx context.Context, orderID, eventType string, data map[string]any) error {
	if m.PublishPaymentEventFunc != nil {
		return m.PublishPaymentEventFunc(ctx, orderID, eventType, data)
	}
	m.record(PublishedEvent{Stream: "payments", Key: orderID, Type: eventType, Data: data})
	return nil
}

func (m *MockEventPublisher) PublishWebhookEvent(ctx context.Context, eventID string, data map[string]any) error {
	if m.PublishWebhookEventFunc != nil {
		return m.PublishWebhookEventFunc(ctx, eventID, data)
	}
	m.record(PublishedEvent{Stream: "webhooks", Key: eventID, Data: data})
	return nil
}

func (m *MockEventPublisher) PublishToDLQ(ctx context.Context, key, reason string, data map[string]any) error {
	if m.PublishToDLQFunc != nil {
		return m.PublishToDLQFunc(ctx, key, reason, data)
	}
	m.record(PublishedEvent{Stream: "dlq", Key: key, Type: reason, Data: data})
	return nil
}

// Events returns the captured messages in publish order
func (m *MockEventPublisher) Events() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedEvent(nil), m.events...)
}

// RawJSON marshals v for use as a webhook payload in tests
func RawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
