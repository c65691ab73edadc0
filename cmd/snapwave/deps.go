// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/snapwave/snapwave/internal/auth/postgres"
	"github.com/snapwave/snapwave/internal/config"
	"github.com/snapwave/snapwave/internal/observability"
	"github.com/snapwave/snapwave/internal/store"
)

// Pool is the connection pool used by the commands. *pgxpool.Pool and
// pgxmock's PgxPoolIface satisfy it.
type Pool interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// APIServer wraps the methods used from web.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// RedisClient is the notification outbox connection.
type RedisClient interface {
	redis.Cmdable
	Close() error
}

// Deps contains injectable dependencies for the commands.
// All fields with nil values use their default implementations.
type Deps struct {
	// PoolFactory connects to PostgreSQL.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, dsn string, opts store.ConnectOptions) (Pool, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(dsn string) (Migrator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// APIServerFactory creates the HTTP API server.
	// Default: web.NewServer
	APIServerFactory func(addr string, handler http.Handler, logger *slog.Logger) APIServer

	// RedisFactory connects to the notification outbox.
	// Default: redis.NewClient
	RedisFactory func(addr string) RedisClient

	// UserServiceFactory builds the account service used by "snapwave user".
	// Default: newCredentialService
	UserServiceFactory func(cfg *config.Config, pool Pool, logger *slog.Logger) (UserService, error)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, dsn string, opts store.ConnectOptions) (Pool, error) {
			return store.Connect(ctx, dsn, opts)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(dsn string) (Migrator, error) {
			return store.NewMigrator(dsn)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, checker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, checker, logger)
		}
	}
	if out.APIServerFactory == nil {
		out.APIServerFactory = newAPIServer
	}
	if out.RedisFactory == nil {
		out.RedisFactory = func(addr string) RedisClient {
			return redis.NewClient(&redis.Options{Addr: addr})
		}
	}
	if out.UserServiceFactory == nil {
		out.UserServiceFactory = func(cfg *config.Config, pool Pool, logger *slog.Logger) (UserService, error) {
			return newCredentialService(cfg, pool, logger, nil)
		}
	}
	return &out
}
