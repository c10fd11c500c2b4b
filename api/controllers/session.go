package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/enrollpay-backend/api/middleware"
	"github.com/angelmondragon/enrollpay-backend/api/responses"
	"github.com/angelmondragon/enrollpay-backend/api/validators"
	"github.com/angelmondragon/enrollpay-backend/pkg/auth/session"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/identity"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
)

type sessionIssuer interface {
	Create(ctx context.Context, idToken string) (*session.Issued, error)
	SetCookies(w http.ResponseWriter, issued *session.Issued)
}

type sessionDestroyer interface {
	Destroy(ctx context.Context, uid string) error
	ClearCookies(w http.ResponseWriter)
}

type sessionRequest struct {
	IDToken string `json:"idToken"`
}

type sessionResponse struct {
	UID       string     `json:"uid"`
	Email     string     `json:"email,omitempty"`
	Name      string     `json:"name,omitempty"`
	Picture   string     `json:"picture,omitempty"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func toSessionResponse(claims *identity.Claims) sessionResponse {
	return sessionResponse{
		UID:     claims.UID,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
		Role:    claims.Role,
	}
}

// AuthSession exchanges an identity id token for the signed session cookie
// pair. The token is read from the JSON body or an Authorization bearer header.
func AuthSession(manager sessionIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if manager == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeMisconfigured, "session manager unavailable"))
			return
		}

		var req sessionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}
		token := strings.TrimSpace(req.IDToken)
		if token == "" {
			token = validators.BearerToken(r)
		}

		issued, err := manager.Create(ctx, token)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		manager.SetCookies(w, issued)

		resp := toSessionResponse(issued.Claims)
		resp.ExpiresAt = &issued.ExpiresAt
		if logg != nil {
			logg.Info(logg.WithField(ctx, "user_id", resp.UID), "session.created")
		}
		responses.WriteSuccess(w, resp)
	}
}

// AuthLogout revokes the caller's sessions when one is attached and always
// clears the cookies. A failed revoke does not fail the request.
func AuthLogout(manager sessionDestroyer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if manager == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeMisconfigured, "session manager unavailable"))
			return
		}

		if claims := middleware.ClaimsFromContext(ctx); claims != nil {
			if err := manager.Destroy(ctx, claims.UID); err != nil && logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"user_id": claims.UID,
					"error":   err.Error(),
				}), "session.revoke_failed")
			}
		}
		manager.ClearCookies(w)
		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}

// AuthMe returns the identity attached by the session middleware.
func AuthMe(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		responses.WriteSuccess(w, toSessionResponse(claims))
	}
}
