// Package db provides database connection helpers used across services.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultMinConns is the resident pool size; DefaultMaxConns adds the
	// overflow headroom for bursts of concurrent sessions.
	DefaultMinConns = 10
	DefaultMaxConns = 30

	healthCheckPeriod = 30 * time.Second
)

type Config struct {
	URL      string
	Timezone string
	MinConns int32
	MaxConns int32
}

func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	poolConfig.ConnConfig.RuntimeParams["timezone"] = tz
	poolConfig.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	poolConfig.MinConns = cfg.MinConns
	if poolConfig.MinConns <= 0 {
		poolConfig.MinConns = DefaultMinConns
	}
	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = DefaultMaxConns
	}
	// Idle connections are pinged on this cadence so a dead one is never
	// handed to a session mid-turn.
	poolConfig.HealthCheckPeriod = healthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func ConnectSimple(ctx context.Context, url string) (*pgxpool.Pool, error) {
	return Connect(ctx, Config{URL: url})
}
