package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
)

type memReplayStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemReplayStore() *memReplayStore {
	return &memReplayStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memReplayStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memReplayStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return nil
}

func (m *memReplayStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memReplayStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memReplayStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func refundRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/refund", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error.Code
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	store := newMemReplayStore()
	calls := 0
	handler := Idempotency(store, IdempotencyOptions{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, refundRequest("", `{"paymentId":"pay_1"}`))
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
	}
	if calls != 2 || len(store.data) != 0 {
		t.Fatalf("expected no replay without a key, calls=%d stored=%d", calls, len(store.data))
	}
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	store := newMemReplayStore()
	calls := 0
	handler := Idempotency(store, IdempotencyOptions{TTL: time.Hour}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"refundId":"rfnd_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, refundRequest("abc", `{"paymentId":"pay_1"}`))
	if first.Code != http.StatusAccepted || first.Header().Get(ReplayedHeader) != "" {
		t.Fatalf("unexpected first response %d %v", first.Code, first.Header())
	}

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, refundRequest("abc", `{"paymentId":"pay_1"}`))
	if replay.Code != http.StatusAccepted || replay.Body.String() != `{"refundId":"rfnd_1"}` {
		t.Fatalf("unexpected replay %d %s", replay.Code, replay.Body.String())
	}
	if replay.Header().Get("Content-Type") != "application/json" || replay.Header().Get(ReplayedHeader) != "true" {
		t.Fatalf("unexpected replay headers %v", replay.Header())
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, expected 1", calls)
	}
	for _, ttl := range store.ttls {
		if ttl != time.Hour {
			t.Fatalf("expected completed entry kept for the configured ttl, got %v", ttl)
		}
	}
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	store := newMemReplayStore()
	handler := Idempotency(store, IdempotencyOptions{}, nil)(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), refundRequest("xyz", `{"amount":100}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, refundRequest("xyz", `{"amount":200}`))

	if rec.Code != http.StatusConflict || errorCode(t, rec) != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected 409 %s, got %d %s", pkgerrors.CodeIdempotency, rec.Code, rec.Body.String())
	}
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newMemReplayStore()
	release := make(chan struct{})
	started := make(chan struct{})
	handler := Idempotency(store, IdempotencyOptions{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(httptest.NewRecorder(), refundRequest("same", `{}`))
	}()
	<-started

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, refundRequest("same", `{}`))
	close(release)
	<-done

	if rec.Code != http.StatusConflict || errorCode(t, rec) != string(pkgerrors.CodeConflict) {
		t.Fatalf("expected in-progress 409, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newMemReplayStore()
	calls := 0
	handler := Idempotency(store, IdempotencyOptions{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), refundRequest("retry-me", `{"paymentId":"pay_1"}`))
	}
	if calls != 2 || len(store.data) != 0 {
		t.Fatalf("expected retries to reach the handler, calls=%d stored=%d", calls, len(store.data))
	}
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	handler := Idempotency(newMemReplayStore(), IdempotencyOptions{}, nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, refundRequest(strings.Repeat("k", 256), `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
