package middleware

import (
	"context"

	"github.com/angelmondragon/enrollpay-backend/pkg/identity"
)

type claimsKey struct{}

// WithClaims stores verified session claims on ctx. Nil claims leave ctx as is.
func WithClaims(ctx context.Context, claims *identity.Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the session claims, or nil on anonymous requests.
func ClaimsFromContext(ctx context.Context) *identity.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*identity.Claims)
	return claims
}

// UserIDFromContext is the session uid, empty when anonymous.
func UserIDFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.UID
	}
	return ""
}

// RoleFromContext is the session role, empty when anonymous or unprivileged.
func RoleFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Role
	}
	return ""
}
