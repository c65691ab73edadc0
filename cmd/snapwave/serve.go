// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/snapwave/snapwave/internal/accesstoken"
	"github.com/snapwave/snapwave/internal/config"
	"github.com/snapwave/snapwave/internal/notify"
	"github.com/snapwave/snapwave/internal/observability"
	"github.com/snapwave/snapwave/internal/recovery"
	"github.com/snapwave/snapwave/internal/web"
	"github.com/snapwave/snapwave/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the account HTTP API and the metrics/health server.
Shuts down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("addr", ":8000", "API listen address")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().Bool("migrate", false, "apply pending migrations before serving")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	if err := requireDatabaseURL(cfg); err != nil {
		return err
	}

	logger.Info("starting snapwave",
		"env", cfg.Env,
		"addr", cfg.Server.Addr,
		"notify_driver", cfg.Notify.Driver,
	)
	if cfg.Dev.ExposeTokens {
		logger.Warn("dev.expose_tokens is enabled: issued tokens are echoed in API responses")
	}

	if cfg.Database.Migrate {
		if err := autoMigrate(cfg.Database.URL, deps, logger); err != nil {
			return err
		}
	}

	pool, err := connect(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		obsServer ObservabilityServer
		metrics   *observability.Metrics
	)
	readiness := func(ctx context.Context) error { return pool.Ping(ctx) }
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, readiness, logger)
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	creds, err := newCredentialService(cfg, pool, logger, metrics)
	if err != nil {
		return err
	}

	base, closeDispatcher, err := newDispatcher(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer closeDispatcher()
	dispatcher := notify.NewAsync(base, notify.WithLogger(logger), notify.WithRecorder(metrics))

	links, err := notify.NewLinks(cfg.Frontend.URL)
	if err != nil {
		return err
	}
	guard, err := recovery.NewGuard(creds, dispatcher, links,
		recovery.WithLogger(logger),
		recovery.WithExposedTokens(cfg.Dev.ExposeTokens),
	)
	if err != nil {
		return err
	}

	signer, err := accesstoken.NewSigner(cfg.AccessToken.Secret, cfg.AccessToken.TTL, cfg.AccessToken.Issuer)
	if err != nil {
		return err
	}

	handler, err := web.NewRouter(web.Deps{
		Credentials: creds,
		Recovery:    guard,
		Tokens:      signer,
		Logger:      logger,
		Recorder:    metrics,
	})
	if err != nil {
		return err
	}

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	apiServer := deps.APIServerFactory(cfg.Server.Addr, handler, logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopObservability(obsServer, cfg, logger)
		return oops.With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("SnapWave started")
	logger.Info("snapwave ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		errutil.Log(shutdownCtx, logger, slog.LevelWarn, "error stopping api server", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		errutil.Log(shutdownCtx, logger, slog.LevelWarn, "notifications still in flight at shutdown", err)
	}
	stopObservability(obsServer, cfg, logger)

	logger.Info("shutdown complete")
	return nil
}

func stopObservability(obsServer ObservabilityServer, cfg *config.Config, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// autoMigrate applies pending migrations before the pool is opened.
func autoMigrate(databaseURL string, deps *Deps, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// monitorServerErrors cancels ctx when a server reports a serve error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
