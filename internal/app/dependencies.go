// Package app wires the pricing worker's long-lived dependencies.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/noah-isme/toko-pricing/internal/cart"
	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/discount"
	"github.com/noah-isme/toko-pricing/internal/lock"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/repo"
	"github.com/noah-isme/toko-pricing/internal/resilience"
	"github.com/noah-isme/toko-pricing/internal/rules"
	"github.com/noah-isme/toko-pricing/internal/shipping"
	"github.com/noah-isme/toko-pricing/internal/tasks"
	"github.com/noah-isme/toko-pricing/internal/tax"
)

// Dependencies enumerates the clients and services shared by the worker.
type Dependencies struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Redis    *redis.Client
	DB       *pgxpool.Pool
	Rules    *rules.Store
	Catalog  catalog.Lookup
	Prices   catalog.RuleLookup
	Engine   *pricing.Engine
	Handlers tasks.Handlers
}

// Build connects to Redis, optionally Postgres, loads the rule set and
// assembles the pricing engine and task handlers.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	store, err := rules.LoadFile(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rule set: %w", err)
	}

	redisClient, err := NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{Config: cfg, Logger: logger, Redis: redisClient, Rules: store}

	deps.Catalog, deps.Prices = store, store
	if cfg.UsePostgresCatalog() {
		if cfg.MigrateOnStart {
			if err := repo.Migrate(cfg.DatabaseURL); err != nil {
				deps.Close()
				return nil, fmt.Errorf("migrate catalog: %w", err)
			}
			logger.Info().Msg("catalog migrations applied")
		}
		pool, err := NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.DB = pool
		breaker := resilience.NewBreaker("catalog", cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
			WithLogger(logger.With().Str("component", "breaker").Logger())
		catalogRepo := repo.CatalogRepo{DB: pool}
		guarded := resilience.Catalog{Lookup: catalogRepo, Rules: catalogRepo, Breaker: breaker}
		deps.Catalog, deps.Prices = guarded, guarded
	}

	deps.Engine = NewEngine(cfg, logger, redisClient, deps.Catalog, deps.Prices, store)
	deps.Handlers = tasks.Handlers{
		Engine:  deps.Engine,
		Usage:   discount.RedisUsageStore{R: redisClient},
		Locker:  lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL: cfg.LockTTL,
		Priced:  tasks.PricedStore{R: redisClient, TTL: cfg.PricedOrderTTL},
		Logger:  logger.With().Str("component", "tasks").Logger(),
	}
	return deps, nil
}

// NewEngine assembles a pricing engine. Purchasables are read through the
// Redis cache; discounts, shipping and tax come from the rule set.
func NewEngine(cfg *config.Config, logger zerolog.Logger, rdb *redis.Client, lookup catalog.Lookup, prices catalog.RuleLookup, store *rules.Store) *pricing.Engine {
	cached := catalog.CachedLookup{Next: lookup, Cache: catalog.NewCache(rdb, cfg.CatalogCacheTTL)}
	return &pricing.Engine{
		Lines: &cart.Materializer{
			Catalog:  cached,
			Resolver: &catalog.Resolver{Catalog: cached, Rules: prices},
		},
		Discounts:     &discount.Engine{Discounts: store, Usage: discount.RedisUsageStore{R: rdb}},
		Shipping:      &shipping.Calculator{Rules: store},
		Tax:           &tax.Calculator{Rates: store, ShippingCategoryID: cfg.ShippingTaxCategory},
		Logger:        logger.With().Str("component", "pricing").Logger(),
		Tracer:        otel.Tracer(obs.TracerName),
		RefreshPrices: cfg.RefreshPrices,
	}
}

// NewServer returns an asynq server bound to the worker's Redis.
func NewServer(cfg *config.Config, logger zerolog.Logger) (*asynq.Server, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{tasks.QueuePricing: 1},
		Logger:      tasks.Logger{L: logger.With().Str("component", "asynq").Logger()},
	}), nil
}

// NewRedis connects and instruments a Redis client.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewPool opens a traced pgx pool.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Close releases the connections held by d.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
}
