// Package app opens the infrastructure shared by the API, the worker and the tools.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/resto-order-engine/internal/config"
	"github.com/noah-isme/resto-order-engine/internal/health"
	"github.com/noah-isme/resto-order-engine/internal/obs"
	"github.com/noah-isme/resto-order-engine/internal/store/postgres"
)

// Dependencies enumerates core services shared across binaries.
type Dependencies struct {
	Config          *config.Config
	Logger          zerolog.Logger
	DB              *pgxpool.Pool
	Store           *postgres.Store
	Redis           *redis.Client
	MetricsRegistry prometheus.Registerer

	closers []func(context.Context) error
}

// Open connects to Postgres and Redis, registers metrics and starts tracing for service.
func Open(ctx context.Context, cfg *config.Config, service string) (*Dependencies, error) {
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("env", cfg.AppEnv).Str("component", service).Logger()
	d := &Dependencies{Config: cfg, Logger: logger, MetricsRegistry: prometheus.DefaultRegisterer}
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, d.MetricsRegistry)

	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   service,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			d.closers = append(d.closers, shutdown)
		}
	}

	pool, err := OpenPool(ctx, cfg, service)
	if err != nil {
		d.Close(context.Background())
		return nil, err
	}
	d.DB = pool
	d.Store = postgres.New(pool)
	d.closers = append(d.closers, func(context.Context) error { pool.Close(); return nil })

	rdb, err := OpenRedis(ctx, cfg)
	if err != nil {
		d.Close(context.Background())
		return nil, err
	}
	d.Redis = rdb
	d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })
	return d, nil
}

// OpenPool opens a traced pgx pool.
func OpenPool(ctx context.Context, cfg *config.Config, applicationName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = cfg.DBMaxConns
	}
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

// OpenRedis opens an instrumented redis client.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	_ = redisotel.InstrumentTracing(rdb)
	if cfg.Obs.MetricsEnabled {
		_ = redisotel.InstrumentMetrics(rdb)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// AsynqRedis returns asynq connection options for the configured redis URL.
func AsynqRedis(cfg *config.Config) (asynq.RedisConnOpt, error) {
	return asynq.ParseRedisURI(cfg.RedisURL)
}

// Migrate applies the embedded schema when enabled.
func (d *Dependencies) Migrate() error {
	if !d.Config.MigrateOnStart {
		return nil
	}
	if err := postgres.Migrate(d.DB); err != nil {
		return err
	}
	d.Logger.Info().Msg("migrations applied")
	return nil
}

// Readiness returns the readiness checks for the opened connections.
func (d *Dependencies) Readiness() []health.Dependency {
	return []health.Dependency{
		{Name: "postgres", Check: d.Store.Ping},
		{Name: "redis", Check: func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }},
	}
}

// Close releases everything Open acquired, in reverse order.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
