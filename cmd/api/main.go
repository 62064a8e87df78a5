package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/resto-order-engine/internal/app"
	"github.com/noah-isme/resto-order-engine/internal/checkout"
	"github.com/noah-isme/resto-order-engine/internal/common"
	"github.com/noah-isme/resto-order-engine/internal/config"
	"github.com/noah-isme/resto-order-engine/internal/health"
	"github.com/noah-isme/resto-order-engine/internal/invoice"
	"github.com/noah-isme/resto-order-engine/internal/obs"
	"github.com/noah-isme/resto-order-engine/internal/order"
	"github.com/noah-isme/resto-order-engine/internal/promotion"
	"github.com/noah-isme/resto-order-engine/internal/ratelimit"
	"github.com/noah-isme/resto-order-engine/internal/report"
	"github.com/noah-isme/resto-order-engine/internal/security"
	"github.com/noah-isme/resto-order-engine/internal/tax"
	"github.com/noah-isme/resto-order-engine/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(startCtx, cfg, "order-engine-api")
	cancel()
	if err != nil {
		panic(err)
	}
	logger := deps.Logger
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()
	if err := deps.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	redisOpt, err := app.AsynqRedis(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}
	taskClient := asynq.NewClient(redisOpt)
	defer func() { _ = taskClient.Close() }()

	store := deps.Store
	profiles := &tax.Resolver{Source: store, DefaultCurrency: cfg.DefaultCurrency, Logger: &logger}
	promoSvc := &promotion.Service{Store: store, Logger: &logger}
	issuer := &invoice.Issuer{
		Store:       store,
		Configs:     store,
		MaxAttempts: cfg.InvoiceMaxAttempts,
		Backoff:     cfg.InvoiceRetryBackoff,
		Logger:      &logger,
	}
	checkoutSvc := &checkout.Service{
		Orders:     store,
		Promotions: promoSvc,
		Profiles:   profiles,
		Queue:      taskClient,
		NewID:      uuid.NewString,
		Logger:     &logger,
	}
	reportSvc := &report.Service{
		Orders:          store,
		R:               deps.Redis,
		TTL:             cfg.ReportCacheTTL,
		DefaultRange:    cfg.ReportDefaultDays,
		DefaultCurrency: cfg.DefaultCurrency,
	}

	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}
	orderHandler := &order.Handler{Store: store, Invoices: issuer, DefaultCurrency: cfg.DefaultCurrency, Logger: &logger}
	invoiceHandler := &invoice.Handler{Issuer: issuer}
	promoHandler := &promotion.Handler{Svc: promoSvc}
	promoAdmin := &promotion.AdminHandler{Store: store, Logger: logger}
	taxAdmin := &tax.AdminHandler{Store: store, DefaultCurrency: cfg.DefaultCurrency, Logger: logger}
	invoiceAdmin := &invoice.ConfigHandler{Store: store, Logger: logger}
	reportHandler := &report.Handler{Svc: reportSvc}

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	limiterStore, err := ratelimit.NewRedisStore(deps.Redis, "ratelimit:promo-validate")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	validateLimiter, err := ratelimit.New(limiterStore, cfg.PromoValidateRate)
	if err != nil {
		logger.Fatal().Err(err).Str("rate", cfg.PromoValidateRate).Msg("parse promotion validation rate")
	}
	validateLimit := ratelimit.Handler{
		Limiter: validateLimiter,
		Key:     ratelimit.TenantClientKey,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), deps.MetricsRegistry)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Obs.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(tenant.NewResolver(cfg.TenantHeader, cfg.TenantRootDomain, cfg.TenantDefault).Middleware)
	r.Use(common.CustomerMiddleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{HSTSMaxAge: 31536000}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", cfg.TenantHeader, common.CustomerHeader},
		ExposedHeaders: []string{"X-Total-Count", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if user := strings.TrimSpace(os.Getenv("SECURE_PPROF_BASIC_AUTH_USER")); user != "" {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, os.Getenv("SECURE_PPROF_BASIC_AUTH_PASS")))
	}

	healthHandler := health.Handler{Deps: deps.Readiness()}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(tenant.Require)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

		v.Post("/quote", checkoutHandler.Quote)
		v.With(idem.Middleware).Post("/orders", checkoutHandler.Place)
		v.Get("/orders", orderHandler.List)
		v.Get("/orders/{id}", orderHandler.Get)
		v.Get("/orders/{id}/receipt", orderHandler.Receipt)
		v.Post("/orders/{id}/invoice", invoiceHandler.Issue)

		v.With(validateLimit.Middleware).Post("/promotions/validate", promoHandler.Validate)
		v.With(idem.Middleware).Post("/promotions/consume", promoHandler.Consume)

		v.Route("/admin", func(admin chi.Router) {
			admin.Get("/tax-profile", taxAdmin.Get)
			admin.Put("/tax-profile", taxAdmin.Put)
			admin.Get("/invoice-config", invoiceAdmin.Get)
			admin.Put("/invoice-config", invoiceAdmin.Put)
			admin.Get("/promotions/{code}", promoAdmin.Get)
			admin.Put("/promotions/{code}", promoAdmin.Put)
			admin.Get("/reports/revenue", reportHandler.Revenue)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
