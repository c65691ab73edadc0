// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	MaxConns     int32
	Attempts     uint64
	InitialDelay time.Duration
}

// DefaultConnectOptions returns the options used by the server.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		MaxConns:     10,
		Attempts:     5,
		InitialDelay: 500 * time.Millisecond,
	}
}

// Connect opens a pool for dsn and pings it, retrying with exponential
// backoff while the database is unreachable.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse dsn").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultConnectOptions().InitialDelay
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(opts.Attempts, retry.NewExponential(opts.InitialDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			slog.Debug("database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}
