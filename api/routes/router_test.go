package routes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/enrollpay-backend/internal/refunds"
	"github.com/angelmondragon/enrollpay-backend/pkg/auth/session"
	"github.com/angelmondragon/enrollpay-backend/pkg/config"
	"github.com/angelmondragon/enrollpay-backend/pkg/identity"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type counterStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *counterStore) Hit(_ context.Context, scope string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[scope]++
	return c.counts[scope], window, nil
}

type replayStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *replayStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (s *replayStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]string)
	}
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	s.data[key] = str
	return true, nil
}

func (s *replayStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	str, _ := value.(string)
	s.data[key] = str
	return nil
}

func (s *replayStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *replayStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("test:idempotency:%s:%s", scope, id)
}

type countingRefunds struct {
	mu      sync.Mutex
	refunds int
}

func (c *countingRefunds) Capture(ctx context.Context, input refunds.CaptureInput) (*refunds.CaptureResult, error) {
	return &refunds.CaptureResult{PaymentID: input.PaymentID, Status: "captured"}, nil
}

func (c *countingRefunds) Refund(ctx context.Context, input refunds.RefundInput) (*refunds.RefundResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refunds++
	return &refunds.RefundResult{RefundID: fmt.Sprintf("rfnd_%d", c.refunds), PaymentID: input.PaymentID, Status: "processed"}, nil
}

type harness struct {
	handler  http.Handler
	provider *identity.JWTProvider
	refunds  *countingRefunds
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		Session: config.SessionConfig{
			Secret:              testSecret,
			TTL:                 time.Hour,
			CookieName:          "session",
			SignatureCookieName: "session_sig",
		},
		Identity:  config.IdentityConfig{Secret: testSecret, Issuer: "test", Audience: "enrollpay"},
		Gateway:   config.GatewayConfig{SignatureHeader: "X-Razorpay-Signature", EventIDHeader: "X-Razorpay-Event-Id"},
		RateLimit: config.RateLimitConfig{LoginWindow: time.Minute, LoginIPLimit: 2},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	provider, err := identity.NewJWTProvider(cfg.Identity, identity.NewMemoryRevocationStore())
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	manager, err := session.NewManager(cfg.Session, provider, logg)
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	refundSvc := &countingRefunds{}
	handler := NewRouter(Params{
		Config:      cfg,
		Logger:      logg,
		Sessions:    manager,
		Refunds:     refundSvc,
		RateLimiter: &counterStore{},
		Idempotency: &replayStore{},
	})
	return &harness{handler: handler, provider: provider, refunds: refundSvc}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) login(t *testing.T, claims identity.Claims) []*http.Cookie {
	t.Helper()
	idToken, err := h.provider.IssueIDToken(claims, time.Hour)
	if err != nil {
		t.Fatalf("issue id token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/session", bytes.NewBufferString(fmt.Sprintf(`{"idToken":%q}`, idToken)))
	rec := h.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected session cookie pair, got %d cookies", len(cookies))
	}
	return cookies
}

func withCookies(req *http.Request, cookies []*http.Cookie) *http.Request {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	if rec := h.do(httptest.NewRequest(http.MethodGet, "/health/live", nil)); rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rec.Code)
	}
	if rec := h.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil)); rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
	if rec := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api/v1/payments/capture", "/api/v1/payments/refund"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"paymentId":"pay_1"}`))
		if rec := h.do(req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
	if rec := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me: expected 401, got %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	cookies := h.login(t, identity.Claims{UID: "user-1", Email: "a@example.com"})

	rec := h.do(withCookies(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), cookies))
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	tampered := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "session_sig" {
			c = &http.Cookie{Name: c.Name, Value: "forged"}
		}
		tampered = append(tampered, c)
	}
	rec = h.do(withCookies(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), tampered))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered signature: expected 401, got %d", rec.Code)
	}

	rec = h.do(withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil), cookies))
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
	rec = h.do(withCookies(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), cookies))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session: expected 401, got %d", rec.Code)
	}
}

func TestSessionEndpointRateLimited(t *testing.T) {
	h := newHarness(t)
	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/session", bytes.NewBufferString(`{"idToken":"not-a-token"}`))
		req.RemoteAddr = "10.0.0.1:1234"
		last = h.do(req).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", last)
	}
}

func TestRefundReplayedByIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	cookies := h.login(t, identity.Claims{UID: "ops-1", Role: identity.RoleOperator})

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/refund", bytes.NewBufferString(body))
		req.Header.Set("Idempotency-Key", "refund-1")
		return h.do(withCookies(req, cookies))
	}

	first := send(`{"paymentId":"pay_1","amount":100}`)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", first.Code, first.Body.String())
	}
	second := send(`{"paymentId":"pay_1","amount":100}`)
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed response, got %d %s", second.Code, second.Body.String())
	}
	if h.refunds.refunds != 1 {
		t.Fatalf("expected one refund call, got %d", h.refunds.refunds)
	}

	if rec := send(`{"paymentId":"pay_1","amount":200}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key with a different body, got %d", rec.Code)
	}
}

func TestCaptureAndRefundRequireOperator(t *testing.T) {
	h := newHarness(t)
	cookies := h.login(t, identity.Claims{UID: "user-2", Email: "b@example.com"})

	for _, path := range []string{"/api/v1/payments/capture", "/api/v1/payments/refund"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"paymentId":"pay_1","amount":100}`))
		req.Header.Set("Idempotency-Key", "attempt-1")
		if rec := h.do(withCookies(req, cookies)); rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403 for a non-operator, got %d (%s)", path, rec.Code, rec.Body.String())
		}
	}
	if h.refunds.refunds != 0 {
		t.Fatalf("expected no refund calls, got %d", h.refunds.refunds)
	}

	operator := h.login(t, identity.Claims{UID: "ops-1", Role: identity.RoleOperator})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/refund", bytes.NewBufferString(`{"paymentId":"pay_1","amount":100}`))
	req.Header.Set("Idempotency-Key", "attempt-1")
	if rec := h.do(withCookies(req, operator)); rec.Code != http.StatusOK {
		t.Fatalf("operator refund: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}
