package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/enrollpay-backend/api/controllers"
	"github.com/angelmondragon/enrollpay-backend/api/middleware"
	"github.com/angelmondragon/enrollpay-backend/api/routes"
	"github.com/angelmondragon/enrollpay-backend/internal/ledger"
	"github.com/angelmondragon/enrollpay-backend/internal/orders"
	"github.com/angelmondragon/enrollpay-backend/internal/refunds"
	"github.com/angelmondragon/enrollpay-backend/internal/verification"
	gatewaywebhook "github.com/angelmondragon/enrollpay-backend/internal/webhooks/gateway"
	"github.com/angelmondragon/enrollpay-backend/pkg/auth/session"
	"github.com/angelmondragon/enrollpay-backend/pkg/config"
	"github.com/angelmondragon/enrollpay-backend/pkg/db"
	"github.com/angelmondragon/enrollpay-backend/pkg/identity"
	"github.com/angelmondragon/enrollpay-backend/pkg/instance"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
	"github.com/angelmondragon/enrollpay-backend/pkg/metrics"
	"github.com/angelmondragon/enrollpay-backend/pkg/migrate"
	"github.com/angelmondragon/enrollpay-backend/pkg/razorpay"
	pkgredis "github.com/angelmondragon/enrollpay-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api", Instance: instance.GetID()})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	exit := func(msg string, err error) {
		logg.Error(ctx, msg, err)
		if closeErr := closeAll(closers); closeErr != nil {
			logg.Error(ctx, "error releasing resources", closeErr)
		}
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	var (
		store ledger.Store
		ready []controllers.Dependency
	)
	if cfg.DB.NormalizedDriver() == config.DBDriverMemory {
		store = ledger.NewMemoryStore()
		logg.Warn(ctx, "using in-memory payment ledger, records do not survive a restart")
	} else {
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			exit("failed to bootstrap database", err)
		}
		closers = append(closers, dbClient.Close)
		if _, err := migrate.AutoMigrate(ctx, cfg, logg, dbClient); err != nil {
			exit("failed to auto-migrate", err)
		}
		store = ledger.NewGormStore(dbClient.DB())
		ready = append(ready, controllers.Dependency{Name: "database", Ping: dbClient.Ping})
	}

	var (
		locker      ledger.Locker             = ledger.NewKeyedMutex()
		revocations identity.RevocationStore  = identity.NewMemoryRevocationStore()
		guard       gatewaywebhook.EventGuard = gatewaywebhook.NewMemoryGuard(cfg.Webhook.ProcessingLease, cfg.Webhook.ProcessedTTL)
		rateLimiter middleware.WindowCounter
		replay      middleware.ReplayStore
	)
	if cfg.Redis.Enabled() {
		redisClient, err := pkgredis.New(ctx, cfg.Redis, logg)
		if err != nil {
			exit("failed to bootstrap redis", err)
		}
		closers = append(closers, redisClient.Close)

		locker = pkgredis.NewLocker(redisClient, cfg.Redis.LockTTL)
		revocations = identity.NewRedisRevocationStore(redisClient, cfg.Session.TTL)
		redisGuard, err := gatewaywebhook.NewRedisGuard(redisClient, cfg.Webhook.ProcessingLease, cfg.Webhook.ProcessedTTL)
		if err != nil {
			exit("failed to create webhook guard", err)
		}
		guard = redisGuard
		rateLimiter = redisClient
		replay = redisClient
		ready = append(ready, controllers.Dependency{Name: "redis", Ping: redisClient.Ping})
	} else {
		logg.Warn(ctx, "redis not configured, using in-process locks and guards")
	}

	ledgerSvc, err := ledger.NewService(store, locker)
	if err != nil {
		exit("failed to create payment ledger", err)
	}

	gateway := razorpay.NewClient(cfg.Gateway, paymentMetrics)
	if !gateway.Configured() {
		logg.Warn(ctx, "payment gateway credentials missing, order creation will fail")
	}

	provider, err := identity.NewJWTProvider(cfg.Identity, revocations)
	if err != nil {
		exit("failed to create identity provider", err)
	}
	sessionManager, err := session.NewManager(cfg.Session, provider, logg)
	if err != nil {
		exit("failed to create session manager", err)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Ledger:          ledgerSvc,
		Gateway:         gateway,
		Logger:          logg,
		Metrics:         paymentMetrics,
		DefaultCurrency: cfg.Gateway.DefaultCurrency,
	})
	if err != nil {
		exit("failed to create order service", err)
	}

	verificationService, err := verification.NewService(verification.ServiceParams{
		Ledger:    ledgerSvc,
		Gateway:   gateway,
		KeySecret: cfg.Gateway.KeySecret,
		Logger:    logg,
		Metrics:   paymentMetrics,
	})
	if err != nil {
		exit("failed to create verification service", err)
	}

	webhookService, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Ledger:        ledgerSvc,
		Guard:         guard,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Logger:        logg,
		Metrics:       paymentMetrics,
	})
	if err != nil {
		exit("failed to create webhook service", err)
	}

	refundService, err := refunds.NewService(refunds.ServiceParams{
		Ledger:  ledgerSvc,
		Gateway: gateway,
		Logger:  logg,
	})
	if err != nil {
		exit("failed to create refund service", err)
	}

	handler := routes.NewRouter(routes.Params{
		Config:       cfg,
		Logger:       logg,
		Sessions:     sessionManager,
		Orders:       orderService,
		Verification: verificationService,
		Refunds:      refundService,
		Payments:     ledgerSvc.Store(),
		Webhooks:     webhookService,
		RateLimiter:  rateLimiter,
		Idempotency:  replay,
		Ready:        ready,
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(serverCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			exit("api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		logg.Info(serverCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(serverCtx, "graceful shutdown failed", err)
		}
	}

	if err := closeAll(closers); err != nil {
		logg.Error(serverCtx, "error releasing resources", err)
	}
}

// closeAll runs closers in reverse order and combines their errors.
func closeAll(closers []func() error) error {
	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i]())
	}
	return err
}
