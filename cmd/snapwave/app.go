// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/snapwave/snapwave/internal/auth"
	"github.com/snapwave/snapwave/internal/auth/postgres"
	"github.com/snapwave/snapwave/internal/config"
	"github.com/snapwave/snapwave/internal/logging"
	"github.com/snapwave/snapwave/internal/notify"
	"github.com/snapwave/snapwave/internal/store"
	"github.com/snapwave/snapwave/internal/web"
)

const serviceName = "snapwave"

func newAPIServer(addr string, handler http.Handler, logger *slog.Logger) APIServer {
	return web.NewServer(addr, handler, logger)
}

func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return nil, oops.With("operation", "set up logging").Wrap(err)
	}
	return logger, nil
}

func requireDatabaseURL(cfg *config.Config) error {
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database.url is required (--database-url or SNAPWAVE_DATABASE_URL)")
	}
	return nil
}

func connect(ctx context.Context, cfg *config.Config, deps *Deps) (Pool, error) {
	if err := requireDatabaseURL(cfg); err != nil {
		return nil, err
	}
	opts := store.DefaultConnectOptions()
	opts.Attempts = cfg.Database.ConnectAttempts
	if cfg.Database.MaxConns > 0 {
		opts.MaxConns = cfg.Database.MaxConns
	}
	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, opts)
	if err != nil {
		return nil, oops.With("operation", "connect to database").Wrap(err)
	}
	return pool, nil
}

// newCredentialService wires the credential core to PostgreSQL.
func newCredentialService(cfg *config.Config, pool postgres.Pool, logger *slog.Logger, recorder auth.Recorder) (*auth.CredentialService, error) {
	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithTokenTTLs(cfg.Tokens.ResetTTL, cfg.Tokens.VerificationTTL),
		auth.WithLegacyRehash(cfg.Auth.RehashLegacy),
	}
	if recorder != nil {
		opts = append(opts, auth.WithRecorder(recorder))
	}
	svc, err := auth.NewCredentialService(
		postgres.NewUserRepository(pool),
		postgres.NewTransactor(pool),
		auth.NewArgon2idHasher(),
		opts...,
	)
	if err != nil {
		return nil, oops.With("operation", "create credential service").Wrap(err)
	}
	return svc, nil
}

// newDispatcher returns the configured notification driver and a cleanup
// function for any connection it opened.
func newDispatcher(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger) (notify.Dispatcher, func(), error) {
	switch cfg.Notify.Driver {
	case config.NotifyRedis:
		client := deps.RedisFactory(cfg.Notify.RedisAddr)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close() //nolint:errcheck // ping error takes precedence
			return nil, nil, oops.Code("NOTIFY_REDIS_UNAVAILABLE").With("addr", cfg.Notify.RedisAddr).Wrap(err)
		}
		d := notify.NewRedisDispatcher(client, notify.WithStream(cfg.Notify.Stream), notify.WithMaxLen(cfg.Notify.MaxLen))
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("error closing redis client", "error", err)
			}
		}
		return d, cleanup, nil
	default:
		return notify.NewLogDispatcher(logger), func() {}, nil
	}
}
