package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/enrollpay-backend/api/controllers"
	paymentcontrollers "github.com/angelmondragon/enrollpay-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/enrollpay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/enrollpay-backend/api/middleware"
	"github.com/angelmondragon/enrollpay-backend/internal/orders"
	"github.com/angelmondragon/enrollpay-backend/internal/refunds"
	"github.com/angelmondragon/enrollpay-backend/internal/verification"
	"github.com/angelmondragon/enrollpay-backend/pkg/auth/session"
	"github.com/angelmondragon/enrollpay-backend/pkg/config"
	"github.com/angelmondragon/enrollpay-backend/pkg/identity"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
)

// SessionManager is the session surface the router needs.
type SessionManager interface {
	middleware.SessionVerifier
	Create(ctx context.Context, idToken string) (*session.Issued, error)
	SetCookies(w http.ResponseWriter, issued *session.Issued)
	Destroy(ctx context.Context, uid string) error
	ClearCookies(w http.ResponseWriter)
}

// Params carries everything the router wires. RateLimiter and Idempotency are
// nil when Redis is not configured; both features are then skipped.
type Params struct {
	Config       *config.Config
	Logger       *logger.Logger
	Sessions     SessionManager
	Orders       orders.Service
	Verification verification.Service
	Refunds      refunds.Service
	Payments     paymentcontrollers.PaymentReader
	Webhooks     webhookcontrollers.GatewayWebhookService
	RateLimiter  middleware.WindowCounter
	Idempotency  middleware.ReplayStore
	Ready        []controllers.Dependency
	Metrics      http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	sessionPolicy := middleware.RateLimitPolicy{
		Name:   "session",
		Window: cfg.RateLimit.LoginWindow,
		Limit:  cfg.RateLimit.LoginIPLimit,
	}

	optionalSession := middleware.OptionalSession(p.Sessions, logg)
	requireSession := middleware.RequireSession(p.Sessions, logg)
	idempotency := middleware.Idempotency(p.Idempotency, middleware.IdempotencyOptions{
		TTL:   cfg.Idempotency.TTL,
		Lease: cfg.Idempotency.Lease,
	}, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Ready...))
	})

	metricsHandler := p.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.RateLimit(sessionPolicy, p.RateLimiter, logg)).
			Post("/session", controllers.AuthSession(p.Sessions, logg))
		r.With(optionalSession).Post("/logout", controllers.AuthLogout(p.Sessions, logg))
		r.With(requireSession).Get("/me", controllers.AuthMe(logg))
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.With(optionalSession).Post("/order", paymentcontrollers.CreateOrder(p.Orders, logg))
		r.With(optionalSession).Post("/verify", paymentcontrollers.Verify(p.Verification, logg))
		r.Post("/webhook", webhookcontrollers.GatewayWebhook(p.Webhooks, webhookcontrollers.Headers{
			Signature: cfg.Gateway.SignatureHeader,
			EventID:   cfg.Gateway.EventIDHeader,
		}, logg))

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/orders/{orderId}", paymentcontrollers.Lookup(p.Payments, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(identity.RoleOperator, logg), idempotency)
				r.Post("/capture", paymentcontrollers.Capture(p.Refunds, logg))
				r.Post("/refund", paymentcontrollers.Refund(p.Refunds, logg))
			})
		})
	})

	return r
}
