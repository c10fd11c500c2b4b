package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/enrollpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/identity"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubProvider struct {
	mu            sync.Mutex
	verifyCalls   int
	sessionCalls  int
	verifyErr     error
	sessionErr    error
	revokeErr     error
	revokedUsers  []string
	sessionClaims *identity.Claims
}

func (s *stubProvider) VerifyToken(ctx context.Context, idToken string) (*identity.Claims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return &identity.Claims{UID: "user-1", Email: "a@example.com"}, nil
}

func (s *stubProvider) CreateSessionToken(ctx context.Context, idToken string, ttl time.Duration) (string, error) {
	return "opaque-" + idToken, nil
}

func (s *stubProvider) VerifySessionToken(ctx context.Context, value string) (*identity.Claims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionCalls++
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	if s.sessionClaims != nil {
		return s.sessionClaims, nil
	}
	return &identity.Claims{UID: "user-1"}, nil
}

func (s *stubProvider) Revoke(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedUsers = append(s.revokedUsers, uid)
	return s.revokeErr
}

func newTestManager(t *testing.T, provider identity.Provider) *Manager {
	t.Helper()
	m, err := NewManager(config.SessionConfig{
		Secret:              testSecret,
		TTL:                 120 * time.Hour,
		CookieName:          "session",
		SignatureCookieName: "session_sig",
	}, provider, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestNewManagerFailsClosed(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	for _, secret := range []string{"", "short"} {
		_, err := NewManager(config.SessionConfig{Secret: secret, TTL: time.Hour}, &stubProvider{}, logg)
		if err == nil {
			t.Fatalf("expected secret %q to be rejected", secret)
		}
	}
}

func TestCreateAndVerify(t *testing.T) {
	provider := &stubProvider{}
	m := newTestManager(t, provider)
	ctx := context.Background()

	issued, err := m.Create(ctx, "id-token")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issued.Value != "opaque-id-token" || issued.Signature == "" {
		t.Fatalf("unexpected issued session %+v", issued)
	}
	claims := m.Verify(ctx, issued.Value, issued.Signature)
	if claims == nil || claims.UID != "user-1" {
		t.Fatalf("expected claims for valid session, got %+v", claims)
	}
}

func TestVerifyRejectsMismatchedSignatureWithoutProviderCall(t *testing.T) {
	provider := &stubProvider{}
	m := newTestManager(t, provider)
	ctx := context.Background()

	issued, err := m.Create(ctx, "id-token")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tampered := []byte(issued.Signature)
	if tampered[0] == 'A' {
		tampered[0] = 'B'
	} else {
		tampered[0] = 'A'
	}

	if claims := m.Verify(ctx, issued.Value, string(tampered)); claims != nil {
		t.Fatalf("expected nil claims for tampered signature")
	}
	if claims := m.Verify(ctx, issued.Value+"x", issued.Signature); claims != nil {
		t.Fatalf("expected nil claims for tampered value")
	}
	if claims := m.Verify(ctx, issued.Value, ""); claims != nil {
		t.Fatalf("expected nil claims without signature")
	}
	if provider.sessionCalls != 0 {
		t.Fatalf("provider consulted %d times for rejected signatures", provider.sessionCalls)
	}
}

func TestVerifyTreatsProviderFailuresAsUnauthenticated(t *testing.T) {
	for _, providerErr := range []error{identity.ErrTokenExpired, identity.ErrTokenRevoked, errors.New("provider down")} {
		provider := &stubProvider{}
		m := newTestManager(t, provider)
		issued, _ := m.Create(context.Background(), "id-token")
		provider.sessionErr = providerErr
		if claims := m.Verify(context.Background(), issued.Value, issued.Signature); claims != nil {
			t.Fatalf("expected nil claims for provider error %v", providerErr)
		}
	}
}

func TestCreateMapsProviderErrors(t *testing.T) {
	m := newTestManager(t, &stubProvider{verifyErr: identity.ErrTokenInvalid})
	if _, err := m.Create(context.Background(), "bad"); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	m = newTestManager(t, &stubProvider{verifyErr: errors.New("timeout")})
	if _, err := m.Create(context.Background(), "x"); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if _, err := m.Create(context.Background(), " "); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCookiesRoundTrip(t *testing.T) {
	m := newTestManager(t, &stubProvider{})
	issued, _ := m.Create(context.Background(), "id-token")

	rec := httptest.NewRecorder()
	m.SetCookies(rec, issued)
	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
			t.Fatalf("cookie %s must be httpOnly and sameSite=lax", c.Name)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if claims := m.FromRequest(req); claims == nil {
		t.Fatal("expected request cookies to authenticate")
	}

	rec = httptest.NewRecorder()
	m.ClearCookies(rec)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %s not cleared: %+v", c.Name, c)
		}
	}
}

func TestDestroyPropagatesRevokeFailure(t *testing.T) {
	provider := &stubProvider{revokeErr: errors.New("provider down")}
	m := newTestManager(t, provider)
	if err := m.Destroy(context.Background(), "user-1"); err == nil {
		t.Fatal("expected revoke failure to surface")
	}
	if len(provider.revokedUsers) != 1 {
		t.Fatalf("expected one revoke attempt, got %d", len(provider.revokedUsers))
	}
}
