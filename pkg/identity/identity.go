// Package identity is the contract with the identity provider that issues
// id tokens, mints opaque session tokens and revokes them.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("identity token expired")
	ErrTokenInvalid = errors.New("identity token invalid")
	ErrTokenRevoked = errors.New("identity token revoked")
)

// RoleOperator is granted to staff who may capture and refund payments.
const RoleOperator = "operator"

// Claims are the user attributes decoded from an id or session token.
type Claims struct {
	UID      string `json:"uid"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Picture  string `json:"picture,omitempty"`
	Role     string `json:"role,omitempty"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// Provider verifies id tokens and manages session tokens.
type Provider interface {
	VerifyToken(ctx context.Context, idToken string) (*Claims, error)
	CreateSessionToken(ctx context.Context, idToken string, ttl time.Duration) (string, error)
	VerifySessionToken(ctx context.Context, sessionValue string) (*Claims, error)
	Revoke(ctx context.Context, uid string) error
}

// IsExpected reports whether err is an ordinary authentication failure rather
// than a provider malfunction.
func IsExpected(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenRevoked)
}
