package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	AutoSMSBaseURL            string
	AutoSMSAPIToken           string
	AutoSMSVerificationSecret string
	AutoSMSWebhookSecret      string
	AutoSMSTimeout            time.Duration
	AutoSMSStrictStatus       bool
	AutoSMSAllowInsecureTLS   bool

	PollInterval    time.Duration
	PollMaxAttempts int

	RedisURL            string
	WebhookReplayTTL    time.Duration
	WebhookMaxBodyBytes int64
	CheckoutStatusTTL   time.Duration
	CheckoutCurrency    string
	CheckoutTitle       string
	IdempotencyTTL      time.Duration

	CORSAllowedOrigins      []string
	CheckoutRateLimitMax    int
	CheckoutRateLimitWindow time.Duration
	CookieSecure            bool

	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	LogFormat          string
	LogLevel           string
	MetricsNamespace   string
	MetricsEnabled     bool
	TracingEnabled     bool
	OTLPEndpoint       string
	TracingExporter    string
	TracingSampleRatio float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv: valueOrDefault(k.String("APP_ENV"), "development"),
		Port:   valueOrDefault(k.String("PORT"), "8080"),

		AutoSMSBaseURL:            strings.TrimSpace(k.String("AUTOSMS_BASE_URL")),
		AutoSMSAPIToken:           strings.TrimSpace(k.String("AUTOSMS_API_TOKEN")),
		AutoSMSVerificationSecret: k.String("AUTOSMS_VERIFICATION_SECRET"),
		AutoSMSWebhookSecret:      k.String("AUTOSMS_WEBHOOK_SECRET"),
		AutoSMSTimeout:            parseDuration(k.String("AUTOSMS_TIMEOUT"), "30s"),
		AutoSMSStrictStatus:       parseBool(k.String("AUTOSMS_STRICT_STATUS")),
		AutoSMSAllowInsecureTLS:   parseBool(k.String("AUTOSMS_ALLOW_INSECURE_TLS")),

		PollInterval:    parseDuration(k.String("POLL_INTERVAL"), "5s"),
		PollMaxAttempts: parseInt(k.String("POLL_MAX_ATTEMPTS"), 60),

		RedisURL:            strings.TrimSpace(k.String("REDIS_URL")),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookMaxBodyBytes: int64(parseInt(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20)),
		CheckoutStatusTTL:   parseDuration(k.String("CHECKOUT_STATUS_TTL"), "24h"),
		CheckoutCurrency:    strings.ToUpper(valueOrDefault(k.String("CHECKOUT_CURRENCY"), "EGP")),
		CheckoutTitle:       valueOrDefault(k.String("CHECKOUT_TITLE"), "Checkout"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),

		CORSAllowedOrigins:      splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CheckoutRateLimitMax:    parseInt(k.String("CHECKOUT_RATE_LIMIT_MAX"), 30),
		CheckoutRateLimitWindow: parseDuration(k.String("CHECKOUT_RATE_LIMIT_WINDOW"), "1m"),
		CookieSecure:            parseBool(k.String("COOKIE_SECURE")),

		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		LogFormat:          valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:   valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "autosms"),
		MetricsEnabled:     parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		TracingEnabled:     parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
		OTLPEndpoint:       strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingExporter:    valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		TracingSampleRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
	}

	if cfg.AutoSMSBaseURL == "" {
		return nil, errors.New("AUTOSMS_BASE_URL is required")
	}
	if u, err := url.Parse(cfg.AutoSMSBaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("AUTOSMS_BASE_URL %q must be an absolute http(s) url", cfg.AutoSMSBaseURL)
	}
	if cfg.AutoSMSAPIToken == "" {
		return nil, errors.New("AUTOSMS_API_TOKEN is required")
	}
	if cfg.AutoSMSAllowInsecureTLS && cfg.IsProduction() {
		return nil, errors.New("AUTOSMS_ALLOW_INSECURE_TLS cannot be enabled in production")
	}
	if cfg.PollMaxAttempts <= 0 {
		return nil, errors.New("POLL_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.AppEnv)) {
	case "production", "prod":
		return true
	default:
		return false
	}
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
