package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/enrollpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/identity"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
)

// SessionVerifier resolves the signed cookie pair on a request.
type SessionVerifier interface {
	FromRequest(r *http.Request) *identity.Claims
}

// OptionalSession attaches claims when a valid session is present and lets
// anonymous requests through.
func OptionalSession(verifier SessionVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			claims := verifier.FromRequest(r)
			if claims == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(attachClaims(r, claims, logg)))
		})
	}
}

// RequireSession rejects requests without a valid signed session.
func RequireSession(verifier SessionVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims *identity.Claims
			if verifier != nil {
				claims = verifier.FromRequest(r)
			}
			if claims == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(attachClaims(r, claims, logg)))
		})
	}
}

func attachClaims(r *http.Request, claims *identity.Claims, logg *logger.Logger) context.Context {
	ctx := WithClaims(r.Context(), claims)
	if logg != nil {
		ctx = logg.WithUserID(ctx, claims.UID)
	}
	return ctx
}
