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

// Config holds worker configuration loaded from the environment.
type Config struct {
	AppEnv      string
	DatabaseURL string
	RedisURL    string
	RulesPath   string

	RefreshPrices       bool
	ShippingTaxCategory string
	CatalogCacheTTL     time.Duration
	PricedOrderTTL      time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	WorkerConcurrency int
	MigrateOnStart    bool

	LogFormat          string
	LogLevel           string
	MetricsNamespace   string
	MetricsAddr        string
	ServiceName        string
	TracingExporter    string
	TracingEndpoint    string
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
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		DatabaseURL:         strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:            strings.TrimSpace(k.String("REDIS_URL")),
		RulesPath:           valueOrDefault(k.String("RULES_PATH"), "rules.yaml"),
		RefreshPrices:       parseBool(k.String("PRICING_REFRESH_PRICES")),
		ShippingTaxCategory: strings.TrimSpace(k.String("PRICING_SHIPPING_TAX_CATEGORY")),
		CatalogCacheTTL:     parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		PricedOrderTTL:      parseDuration(k.String("PRICED_ORDER_TTL"), "24h"),
		BreakerMinRequests:  parseInt(k.String("CATALOG_BREAKER_MIN_REQUESTS"), 10),
		BreakerFailureRatio: parseFloat(k.String("CATALOG_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("CATALOG_BREAKER_OPEN_FOR"), "30s"),
		LockTTL:             parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff:    parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		WorkerConcurrency:   parseInt(k.String("WORKER_CONCURRENCY"), 10),
		MigrateOnStart:      parseBool(k.String("DB_MIGRATE_ON_START")),
		LogFormat:           valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:            valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:    valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko"),
		MetricsAddr:         strings.TrimSpace(k.String("OBS_METRICS_ADDR")),
		ServiceName:         valueOrDefault(k.String("OBS_SERVICE_NAME"), "toko-pricing-worker"),
		TracingExporter:     valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "none"),
		TracingEndpoint:     strings.TrimSpace(k.String("OBS_TRACING_ENDPOINT")),
		TracingSampleRatio:  parseFloat(k.String("OBS_TRACING_SAMPLE_RATIO"), 1),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.WorkerConcurrency <= 0 {
		return nil, errors.New("WORKER_CONCURRENCY must be positive")
	}
	if cfg.LockTTL <= 0 {
		return nil, errors.New("LOCK_TTL must be positive")
	}

	return cfg, nil
}

// UsePostgresCatalog reports whether purchasables come from Postgres rather
// than the rule-set file.
func (c *Config) UsePostgresCatalog() bool {
	return c.DatabaseURL != ""
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
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
