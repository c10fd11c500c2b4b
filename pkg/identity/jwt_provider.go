package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/enrollpay-backend/pkg/config"
)

const (
	tokenUseID      = "id"
	tokenUseSession = "session"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// JWTProvider implements Provider with HS256 tokens. Session tokens carry the
// id token's identity and are rejected once issued at or before the user's
// latest revocation.
type JWTProvider struct {
	secret      []byte
	issuer      string
	audience    string
	revocations RevocationStore
	now         func() time.Time
}

func NewJWTProvider(cfg config.IdentityConfig, revocations RevocationStore) (*JWTProvider, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("identity secret is required")
	}
	if revocations == nil {
		return nil, fmt.Errorf("revocation store is required")
	}
	return &JWTProvider{
		secret:      []byte(cfg.Secret),
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		revocations: revocations,
		now:         time.Now,
	}, nil
}

// IssueIDToken signs an id token for the given identity.
func (p *JWTProvider) IssueIDToken(claims Claims, ttl time.Duration) (string, error) {
	if strings.TrimSpace(claims.UID) == "" {
		return "", fmt.Errorf("uid is required")
	}
	claims.TokenUse = tokenUseID
	return p.sign(claims, ttl)
}

func (p *JWTProvider) VerifyToken(ctx context.Context, idToken string) (*Claims, error) {
	return p.parse(idToken, tokenUseID)
}

func (p *JWTProvider) CreateSessionToken(ctx context.Context, idToken string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("session ttl must be positive")
	}
	claims, err := p.parse(idToken, tokenUseID)
	if err != nil {
		return "", err
	}
	session := Claims{
		UID:      claims.UID,
		Email:    claims.Email,
		Name:     claims.Name,
		Picture:  claims.Picture,
		Role:     claims.Role,
		TokenUse: tokenUseSession,
	}
	return p.sign(session, ttl)
}

func (p *JWTProvider) VerifySessionToken(ctx context.Context, sessionValue string) (*Claims, error) {
	claims, err := p.parse(sessionValue, tokenUseSession)
	if err != nil {
		return nil, err
	}
	revokedAt, ok, err := p.revocations.RevokedAt(ctx, claims.UID)
	if err != nil {
		return nil, fmt.Errorf("checking revocation: %w", err)
	}
	if ok && claims.IssuedAt != nil && !claims.IssuedAt.Time.After(revokedAt) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke invalidates every session token issued to uid up to now.
func (p *JWTProvider) Revoke(ctx context.Context, uid string) error {
	if strings.TrimSpace(uid) == "" {
		return fmt.Errorf("uid is required")
	}
	return p.revocations.MarkRevoked(ctx, uid, p.now().Truncate(time.Second))
}

func (p *JWTProvider) sign(claims Claims, ttl time.Duration) (string, error) {
	now := p.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    p.issuer,
		Subject:   claims.UID,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

func (p *JWTProvider) parse(raw, use string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrTokenInvalid
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return p.secret, nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.TokenUse != use || claims.UID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
