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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/autosms-go/internal/autosms"
	"github.com/noah-isme/autosms-go/internal/checkout"
	"github.com/noah-isme/autosms-go/internal/common"
	"github.com/noah-isme/autosms-go/internal/config"
	"github.com/noah-isme/autosms-go/internal/health"
	"github.com/noah-isme/autosms-go/internal/lock"
	"github.com/noah-isme/autosms-go/internal/obs"
	"github.com/noah-isme/autosms-go/internal/poller"
	"github.com/noah-isme/autosms-go/internal/ratelimit"
	"github.com/noah-isme/autosms-go/internal/resilience"
	"github.com/noah-isme/autosms-go/internal/security"
	"github.com/noah-isme/autosms-go/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "autosms-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	redisClient := connectRedis(cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor).
		WithTarget("autosms").
		WithLogger(logger)
	client, err := autosms.NewClient(autosms.Config{
		BaseURL:            cfg.AutoSMSBaseURL,
		APIToken:           cfg.AutoSMSAPIToken,
		VerificationSecret: cfg.AutoSMSVerificationSecret,
		Timeout:            cfg.AutoSMSTimeout,
		StrictStatus:       cfg.AutoSMSStrictStatus,
		AllowInsecureTLS:   cfg.AutoSMSAllowInsecureTLS,
		Production:         cfg.IsProduction(),
	}, autosms.WithLogger(logger), autosms.WithBreaker(breaker))
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise autosms client")
	}
	if !client.HasSecret() {
		logger.Warn().Msg("AUTOSMS_VERIFICATION_SECRET not set; response signatures will not be verified")
	}

	payments := poller.New(client,
		poller.WithLogger(logger),
		poller.WithDefaults(cfg.PollInterval, cfg.PollMaxAttempts),
	)

	var (
		statusStore checkout.StatusStore
		replay      webhook.ReplayStore
		idemStore   common.IdemStore
		limiter     ratelimit.Limiter
	)
	if redisClient != nil {
		statusStore = checkout.RedisStatusStore{Client: redisClient, TTL: cfg.CheckoutStatusTTL}
		replay = redisClient
		idemStore = redisClient
		limiter = ratelimit.RedisLimiter{Client: redisClient}
	} else {
		logger.Warn().Msg("REDIS_URL not set; checkout state, replay and rate limits are process local")
		statusStore = checkout.NewMemoryStatusStore(cfg.CheckoutStatusTTL)
		nx := common.NewMemoryNX()
		replay = nx
		idemStore = nx
		limiter = ratelimit.NewMemoryLimiter()
	}

	checkoutSvc := &checkout.Service{
		API:             client,
		Poller:          payments,
		Store:           statusStore,
		Logger:          logger,
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
	}
	if redisClient != nil {
		checkoutSvc.Locker = lock.Locker{R: redisClient, Prefix: "autosms:lock:"}
	}
	checkoutHandler := &checkout.Handler{
		Svc:      checkoutSvc,
		CSRF:     security.CSRF{Secure: cfg.CookieSecure},
		Title:    cfg.CheckoutTitle,
		Currency: cfg.CheckoutCurrency,
		Logger:   logger,
	}
	receiver := webhook.Receiver{
		Secret:    cfg.AutoSMSWebhookSecret,
		Replay:    replay,
		ReplayTTL: cfg.WebhookReplayTTL,
		Logger:    logger,
	}
	if strings.TrimSpace(cfg.AutoSMSWebhookSecret) == "" {
		logger.Warn().Msg("AUTOSMS_WEBHOOK_SECRET not set; every webhook will be rejected")
	}

	checkoutLimit := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("rl:checkout:"),
			Window: cfg.CheckoutRateLimitWindow,
			Max:    cfg.CheckoutRateLimitMax,
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("rate limiter unavailable")
		},
	}
	idem := common.Idem{Store: idemStore, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:                true,
		EnableHSTS:            cfg.IsProduction(),
		ContentSecurityPolicy: security.DefaultCSP,
	}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token", "X-Requested-With", common.IdempotencyHeader},
		AllowCredentials: len(cfg.CORSAllowedOrigins) > 0,
		MaxAge:           300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	probes := map[string]health.Probe{"autosms": health.BreakerProbe(breaker)}
	if redisClient != nil {
		probes["redis"] = health.RedisProbe(redisClient)
	}
	healthHandler := health.Handler{Probes: probes}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	checkoutHandler.Routes(r,
		security.BodyLimit{Max: 64 << 10}.Middleware,
		checkoutLimit.Middleware,
		idem.Middleware,
	)
	r.Method(http.MethodPost, "/webhooks/autosms", receiver.HTTPHandler(checkoutSvc.HandleWebhook, cfg.WebhookMaxBodyBytes))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	stopped := payments.StopAll()
	logger.Info().Int("stopped_polls", stopped).Msg("server stopped")
}

// connectRedis returns nil when no REDIS_URL is configured.
func connectRedis(cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
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
	if user == "" {
		return handler
	}
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
