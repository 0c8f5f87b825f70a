// Package main is the entrypoint for the exit-intent offer API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/salesboost/exitintent/internal/cache"
	"github.com/salesboost/exitintent/internal/config"
	"github.com/salesboost/exitintent/internal/events"
	"github.com/salesboost/exitintent/internal/handler"
	"github.com/salesboost/exitintent/internal/identity"
	"github.com/salesboost/exitintent/internal/metrics"
	"github.com/salesboost/exitintent/internal/middleware"
	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/repository"
	"github.com/salesboost/exitintent/internal/server"
	"github.com/salesboost/exitintent/internal/service"
	"github.com/salesboost/exitintent/internal/state"
)

// issueLockWait is how long a second issuance request waits for the first.
const issueLockWait = 3 * time.Second

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	recorder := metrics.NewInMemory()

	// Services
	settingsSvc := service.NewSettingsService(repo, cacheClient, cfg.SettingsCacheTTL, logger)
	store := state.NewIdentityStore(repo, cacheClient, settingsSvc, logger)
	signer := identity.NewSigner(cfg.CookieSecret)
	resolver := identity.NewResolver(signer, identity.NewCustomerTokens(cfg.CustomerJWTSecret))

	exitIntent := service.NewExitIntentService(service.ExitIntentDeps{
		Store:    store,
		Settings: settingsSvc,
		Carts:    cacheClient,
		Coupons:  repo,
		Lock:     issueLock(cacheClient, cfg.IssueLockTTL),
		Metrics:  recorder,
		Logger:   logger,
	})

	// Event pipeline
	bus := events.NewBus()
	service.NewConversionTracker(store, settingsSvc, signer, recorder, logger).Register(bus)
	service.NewCouponUsageRecorder(repo, cacheClient, logger).Register(bus)
	publisher := events.NewPublisher(cacheClient.Client(), logger, recorder)

	deps := routerDeps{
		health:     handler.NewHealthHandler(repo, cacheClient, logger),
		metrics:    handler.NewMetricsHandler(recorder),
		exitIntent: handler.NewExitIntentHandler(exitIntent, signer, logger),
		cart:       handler.NewCartHandler(cacheClient, logger),
		admin:      handler.NewAdminHandler(settingsSvc, store, logger),
		webhook:    handler.NewStoreWebhookHandler(publisher, cfg.StoreWebhookSecret, cfg.WebhookMaxSkew, logger),
		resolver:   resolver,
		guestTTL:   settingsSvc,
		keys:       repo,
		authCache:  cacheClient,
		limiter:    cacheClient,
		recorder:   recorder,
	}
	r := setupRouter(deps, cfg, logger)

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first, closed last.
	srv.OnShutdown("postgres", func(ctx context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(ctx context.Context) error {
		return cacheClient.Close()
	})

	if cfg.EventWorkerEnabled {
		worker := events.NewWorker(cacheClient.Client(), bus, logger, events.NewConsumerID(), recorder)
		worker.SetBatchSize(cfg.EventWorkerBatchSize)
		worker.SetBlockTimeout(cfg.EventWorkerBlock)
		worker.SetMaxRetries(cfg.EventMaxRetries)
		srv.Go("event_worker", worker.Run)
		srv.OnShutdown("event_worker", worker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"event_worker", cfg.EventWorkerEnabled,
		"order_subscribers", bus.Subscribers(model.EventOrderCompleted),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// issueLock adapts the Redis lock to the service's IssueLock.
func issueLock(c *cache.Cache, ttl time.Duration) service.IssueLock {
	return func(ctx context.Context, name string) (func(), error) {
		l, err := c.AcquireLock(ctx, name, ttl, issueLockWait)
		if err != nil {
			return nil, err
		}
		return func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.Release(releaseCtx)
		}, nil
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routerDeps struct {
	health     *handler.HealthHandler
	metrics    *handler.MetricsHandler
	exitIntent *handler.ExitIntentHandler
	cart       *handler.CartHandler
	admin      *handler.AdminHandler
	webhook    *handler.StoreWebhookHandler

	resolver  *identity.Resolver
	guestTTL  middleware.GuestTTLSource
	keys      middleware.APIKeyStore
	authCache middleware.AuthCache
	limiter   middleware.IPLimiter
	recorder  metrics.Recorder
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, cfg.IsDevelopment()))
	r.Use(middleware.Security(middleware.SecurityConfig{
		IsDevelopment:      cfg.IsDevelopment(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	r.Use(middleware.CORS(corsCfg))

	// Ops endpoints
	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	r.Get("/metrics", d.metrics.Metrics)

	identityMW := middleware.Identity(middleware.IdentityConfig{
		Logger:        logger,
		Resolver:      d.resolver,
		TTL:           d.guestTTL,
		SecureCookies: cfg.SecureCookies(),
	})
	nonceMW := middleware.RequireNonce(d.resolver.Signer(), nil)
	rateLimitMW := middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:      logger,
		Limiter:     d.limiter,
		Metrics:     d.recorder,
		Enabled:     cfg.RateLimitEnabled,
		Max:         cfg.RateLimitMax,
		Window:      cfg.RateLimitWindow,
		BypassLocal: cfg.RateLimitBypassLocal,
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Storefront
		r.Group(func(r chi.Router) {
			r.Use(identityMW)

			r.Route("/exit-intent", func(r chi.Router) {
				r.Get("/bootstrap", d.exitIntent.Bootstrap)
				r.Get("/eligibility", d.exitIntent.Eligibility)
				r.With(nonceMW).Post("/cart-check", d.exitIntent.CartCheck)
				r.With(nonceMW, rateLimitMW).Post("/shown", d.exitIntent.Shown)
				r.With(nonceMW, rateLimitMW).Post("/coupon", d.exitIntent.Coupon)
			})

			r.Get("/cart", d.cart.Get)
			r.With(nonceMW).Put("/cart/items", d.cart.ReplaceItems)
		})

		// Store integration
		r.Post("/webhooks/store-events", d.webhook.Receive)

		// Admin console
		r.Route("/admin/exit-intent", func(r chi.Router) {
			r.Use(middleware.Auth(middleware.AuthConfig{
				Logger: logger,
				Keys:   d.keys,
				Cache:  d.authCache,
			}))

			r.With(middleware.RequireSettingsRead()).Get("/settings", d.admin.GetSettings)
			r.With(middleware.RequireAdmin()).Put("/settings", d.admin.PutSettings)
			r.With(middleware.RequireSettingsRead()).Get("/visitors/{identity}", d.admin.GetVisitor)
			r.With(middleware.RequireAdmin()).Delete("/visitors/{identity}", d.admin.DeleteVisitor)
		})
	})

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
