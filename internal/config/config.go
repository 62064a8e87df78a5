package config

import (
	"errors"
	"fmt"
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
	AppEnv          string
	Port            string
	DatabaseURL     string
	DBMaxConns      int32
	MigrateOnStart  bool
	RedisURL        string
	DefaultCurrency string

	TenantHeader     string
	TenantRootDomain string
	TenantDefault    string

	CORSAllowedOrigins []string
	BodyLimitBytes     int64
	IdempotencyTTL     time.Duration

	InvoiceMaxAttempts  int
	InvoiceRetryBackoff time.Duration

	PromoValidateRate string
	ReportCacheTTL    time.Duration
	ReportDefaultDays int

	KafkaBrokers       []string
	KafkaTopic         string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	WorkerConcurrency  int

	LegacyMongoURI        string
	LegacyMongoDB         string
	LegacyMongoCollection string

	Obs Obs
}

// Obs configures logging, metrics and tracing.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:          valueOrDefault(k.String("APP_ENV"), "development"),
		Port:            valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:     k.String("DATABASE_URL"),
		DBMaxConns:      int32(parseInt(k.String("DB_MAX_CONNS"), 10)),
		MigrateOnStart:  parseBool(k.String("MIGRATE_ON_START"), true),
		RedisURL:        k.String("REDIS_URL"),
		DefaultCurrency: strings.ToUpper(valueOrDefault(k.String("DEFAULT_CURRENCY"), "USD")),

		TenantHeader:     valueOrDefault(k.String("TENANT_HEADER"), "X-Tenant-ID"),
		TenantRootDomain: strings.TrimSpace(k.String("TENANT_ROOT_DOMAIN")),
		TenantDefault:    strings.TrimSpace(k.String("TENANT_DEFAULT")),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		InvoiceMaxAttempts:  parseInt(k.String("INVOICE_MAX_ATTEMPTS"), 5),
		InvoiceRetryBackoff: parseDuration(k.String("INVOICE_RETRY_BACKOFF"), "25ms"),

		PromoValidateRate: valueOrDefault(k.String("PROMO_VALIDATE_RATE"), "30-M"),
		ReportCacheTTL:    parseDuration(k.String("REPORT_CACHE_TTL"), "5m"),
		ReportDefaultDays: parseInt(k.String("REPORT_DEFAULT_DAYS"), 30),

		KafkaBrokers:       splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopic:         valueOrDefault(k.String("KAFKA_TOPIC"), "order-engine.events"),
		OutboxPollInterval: parseDuration(k.String("OUTBOX_POLL_INTERVAL"), "2s"),
		OutboxBatchSize:    parseInt(k.String("OUTBOX_BATCH_SIZE"), 100),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 10),

		LegacyMongoURI:        strings.TrimSpace(k.String("LEGACY_MONGO_URI")),
		LegacyMongoDB:         strings.TrimSpace(k.String("LEGACY_MONGO_DB")),
		LegacyMongoCollection: valueOrDefault(k.String("LEGACY_MONGO_COLLECTION"), "orders"),

		Obs: Obs{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "order_engine"),
			MetricsBuckets:   strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.InvoiceMaxAttempts < 1 {
		return nil, errors.New("INVOICE_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
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

// KafkaEnabled reports whether outbox events should be published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
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
	if err != nil {
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

func parseBool(value string, fallback bool) bool {
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
