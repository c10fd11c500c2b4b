package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/enrollpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/identity"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
	"github.com/angelmondragon/enrollpay-backend/pkg/signature"
)

// Issued is a freshly created session: the opaque provider value and its
// transport signature, stored as two separate cookies.
type Issued struct {
	Value     string
	Signature string
	ExpiresAt time.Time
	Claims    *identity.Claims
}

// Manager issues and verifies the signed session cookie pair.
type Manager struct {
	provider      identity.Provider
	logg          *logger.Logger
	secret        []byte
	ttl           time.Duration
	valueCookie   string
	sigCookie     string
	secureCookies bool
	now           func() time.Time
}

// NewManager fails closed when the signing secret is missing or too short.
func NewManager(cfg config.SessionConfig, provider identity.Provider, logg *logger.Logger) (*Manager, error) {
	if provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := signature.CheckSecret(cfg.Secret); err != nil {
		return nil, fmt.Errorf("session secret: %w", err)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	return &Manager{
		provider:      provider,
		logg:          logg,
		secret:        []byte(cfg.Secret),
		ttl:           cfg.TTL,
		valueCookie:   cfg.CookieName,
		sigCookie:     cfg.SignatureCookieName,
		secureCookies: cfg.SecureCookies,
		now:           time.Now,
	}, nil
}

// Create exchanges a provider id token for a signed session.
func (m *Manager) Create(ctx context.Context, idToken string) (*Issued, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "id token is required")
	}
	claims, err := m.provider.VerifyToken(ctx, idToken)
	if err != nil {
		return nil, m.providerError(err, "verify id token")
	}
	value, err := m.provider.CreateSessionToken(ctx, idToken, m.ttl)
	if err != nil {
		return nil, m.providerError(err, "create session token")
	}
	return &Issued{
		Value:     value,
		Signature: signature.SignBase64URL(m.secret, []byte(value)),
		ExpiresAt: m.now().Add(m.ttl),
		Claims:    claims,
	}, nil
}

// Verify returns the session's claims, or nil when the request is not
// authenticated. A missing or mismatched signature is rejected before the
// provider is consulted.
func (m *Manager) Verify(ctx context.Context, value, sig string) *identity.Claims {
	if value == "" || sig == "" {
		return nil
	}
	if !signature.VerifyBase64URL(m.secret, []byte(value), sig) {
		m.logg.Debug(ctx, "session.signature_mismatch")
		return nil
	}
	claims, err := m.provider.VerifySessionToken(ctx, value)
	if err != nil {
		if identity.IsExpected(err) {
			m.logg.Debug(m.logg.WithField(ctx, "reason", err.Error()), "session.rejected")
			return nil
		}
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "session.provider_error")
		return nil
	}
	return claims
}

// Destroy revokes the user's sessions at the provider. Callers clear cookies
// regardless of the result.
func (m *Manager) Destroy(ctx context.Context, uid string) error {
	if strings.TrimSpace(uid) == "" {
		return nil
	}
	if err := m.provider.Revoke(ctx, uid); err != nil {
		return fmt.Errorf("revoke sessions for %s: %w", uid, err)
	}
	return nil
}

// FromRequest verifies the cookie pair carried by r.
func (m *Manager) FromRequest(r *http.Request) *identity.Claims {
	return m.Verify(r.Context(), cookieValue(r, m.valueCookie), cookieValue(r, m.sigCookie))
}

// SetCookies writes both session cookies.
func (m *Manager) SetCookies(w http.ResponseWriter, issued *Issued) {
	maxAge := int(m.ttl.Seconds())
	http.SetCookie(w, m.cookie(m.valueCookie, issued.Value, issued.ExpiresAt, maxAge))
	http.SetCookie(w, m.cookie(m.sigCookie, issued.Signature, issued.ExpiresAt, maxAge))
}

// ClearCookies expires both session cookies.
func (m *Manager) ClearCookies(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(m.valueCookie, "", time.Unix(0, 0), -1))
	http.SetCookie(w, m.cookie(m.sigCookie, "", time.Unix(0, 0), -1))
}

func (m *Manager) cookie(name, value string, expires time.Time, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) providerError(err error, op string) error {
	if identity.IsExpected(err) {
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid or expired credentials")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
