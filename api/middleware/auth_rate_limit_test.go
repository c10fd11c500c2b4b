package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
)

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeCounter) Hit(_ context.Context, scope string, window time.Duration) (int64, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[scope]++
	return f.counts[scope], window - 1500*time.Millisecond, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func loginRequest(setIP func(*http.Request)) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/session", strings.NewReader(`{"idToken":"tok"}`))
	setIP(req)
	return req
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	counter := &fakeCounter{}
	handler := RateLimit(RateLimitPolicy{Name: "Session", Window: time.Minute, Limit: 2}, counter, nil)(okHandler())
	fromForwarded := func(r *http.Request) { r.Header.Set("X-Forwarded-For", "5.6.7.8, 10.0.0.1") }

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, loginRequest(fromForwarded))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest(fromForwarded))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "59" {
		t.Fatalf("expected Retry-After 59, got %q", got)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeRateLimit) {
		t.Fatalf("unexpected code %s", payload.Error.Code)
	}
	if counter.counts["session:5.6.7.8"] != 3 {
		t.Fatalf("expected forwarded ip to be counted, got %v", counter.counts)
	}
}

func TestRateLimitCountsPerIP(t *testing.T) {
	counter := &fakeCounter{}
	handler := RateLimit(RateLimitPolicy{Name: "session", Window: time.Minute, Limit: 1}, counter, nil)(okHandler())

	for _, addr := range []string{"1.1.1.1:1000", "2.2.2.2:1000"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, loginRequest(func(r *http.Request) { r.RemoteAddr = addr }))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", addr, rec.Code)
		}
	}
}

func TestRateLimitInactivePolicyPassesThrough(t *testing.T) {
	counter := &fakeCounter{}
	handler := RateLimit(RateLimitPolicy{Name: "session", Limit: 1}, counter, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/session", nil))
	if rec.Code != http.StatusOK || len(counter.counts) != 0 {
		t.Fatalf("inactive policy should not count, got %d %v", rec.Code, counter.counts)
	}
}

func TestRateLimitCounterFailure(t *testing.T) {
	counter := &fakeCounter{err: errors.New("connection refused")}
	handler := RateLimit(RateLimitPolicy{Name: "session", Window: time.Minute, Limit: 1}, counter, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest(func(r *http.Request) { r.RemoteAddr = "1.1.1.1:1000" }))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the counter is down, got %d", rec.Code)
	}
}
