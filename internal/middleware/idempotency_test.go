package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassiomorais/payflow/internal/repository/postgres"
)

type memoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyEntry
	getErr  error
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{entries: make(map[string]*postgres.IdempotencyEntry)}
}

func (s *memoryIdempotencyStore) Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.entries[key], nil
}

func (s *memoryIdempotencyStore) Set(ctx context.Context, entry *postgres.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	return nil
}

func countingHandler(status int, body string) (http.Handler, *int) {
	calls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
		w.Write([]byte(body))
	}), &calls
}

func TestIdempotency_NoKey_PassThrough(t *testing.T) {
	store := newMemoryIdempotencyStore()
	handler, calls := countingHandler(http.StatusAccepted, `{"ok":true}`)
	mw := Idempotency(store, time.Hour)(handler)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	}
	assert.Equal(t, 2, *calls)
	assert.Empty(t, store.entries)
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	store := newMemoryIdempotencyStore()
	handler, calls := countingHandler(http.StatusAccepted, `{"orderId":"ord_1"}`)
	mw := Idempotency(store, time.Hour)(handler)

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	mw.ServeHTTP(first, req)

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	mw.ServeHTTP(second, req)

	assert.Equal(t, 1, *calls)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.JSONEq(t, `{"orderId":"ord_1"}`, second.Body.String())

	entry := store.entries["POST /api/v1/payments key-1"]
	require.NotNil(t, entry)
	assert.WithinDuration(t, entry.CreatedAt.Add(time.Hour), entry.ExpiresAt, time.Second)
}

func TestIdempotency_DifferentBodyConflicts(t *testing.T) {
	store := newMemoryIdempotencyStore()
	var seen []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = append(seen, string(b))
		w.WriteHeader(http.StatusAccepted)
	})
	mw := Idempotency(store, time.Hour)(handler)

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "key-3")
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusAccepted, send(`{"order_id":"ord_1"}`).Code)
	assert.Equal(t, http.StatusAccepted, send(`{"order_id":"ord_1"}`).Code)

	conflict := send(`{"order_id":"ord_2"}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Contains(t, conflict.Body.String(), "duplicate_request")

	// The handler ran once and still saw the full body
	assert.Equal(t, []string{`{"order_id":"ord_1"}`}, seen)
}

func TestHashBody(t *testing.T) {
	assert.Equal(t, hashBody([]byte(`{"a":1}`)), hashBody([]byte(`{"a":1}`)))
	assert.NotEqual(t, hashBody([]byte(`{"a":1}`)), hashBody([]byte(`{"a":2}`)))
	assert.Len(t, hashBody(nil), 64)
}

func TestIdempotency_KeyScopedByRoute(t *testing.T) {
	store := newMemoryIdempotencyStore()
	handler, calls := countingHandler(http.StatusAccepted, `{}`)
	mw := Idempotency(store, time.Hour)(handler)

	for _, path := range []string{"/api/v1/payments", "/api/v1/webhooks"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Idempotency-Key", "shared")
		mw.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, *calls)
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	store := newMemoryIdempotencyStore()
	handler, calls := countingHandler(http.StatusInternalServerError, `{"error":"boom"}`)
	mw := Idempotency(store, time.Hour)(handler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
		req.Header.Set("Idempotency-Key", "key-err")
		mw.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, *calls)
	assert.Empty(t, store.entries)
}

func TestIdempotency_LookupFailureFallsThrough(t *testing.T) {
	store := newMemoryIdempotencyStore()
	store.getErr = errors.New("db down")
	handler, calls := countingHandler(http.StatusOK, `{}`)
	mw := Idempotency(store, time.Hour)(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	req.Header.Set("Idempotency-Key", "key-2")
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, *calls)
}

func TestResponseRecorder_LargeBody_Truncation(t *testing.T) {
	largeBody := bytes.Repeat([]byte("x"), maxIdempotencyBodySize+100)

	inner := httptest.NewRecorder()
	rec := &responseRecorder{ResponseWriter: inner, body: &bytes.Buffer{}, statusCode: http.StatusOK}
	rec.Write(largeBody)

	assert.True(t, rec.bodyTruncated)
	assert.Zero(t, rec.body.Len())
	assert.Equal(t, maxIdempotencyBodySize+100, inner.Body.Len())
}
