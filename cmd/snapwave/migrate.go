// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/snapwave/snapwave/internal/store"
)

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmdWithDeps(nil)
}

func newMigrateCmdWithDeps(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long: `Apply, roll back or inspect the PostgreSQL schema migrations.
Running "snapwave migrate" with no subcommand applies all pending migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, deps)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, deps)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back every applied migration, or only the last N with --steps.
Rolling back the users migration drops all account data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateDown(cmd, deps)
		},
	}
	down.Flags().Bool("yes", false, "confirm the rollback")
	down.Flags().Int("steps", 0, "roll back only the last N migrations (0 means all)")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateStatus(cmd, deps)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the migration version without running migrations",
		Long: `Set the recorded migration version and clear the dirty flag.
Use after repairing a migration that failed halfway.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateForce(cmd, deps, args[0])
		},
	})

	return cmd
}

// withMigrator loads configuration, opens a migrator and runs fn.
func withMigrator(cmd *cobra.Command, deps *Deps, fn func(Migrator) error) error {
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	if err := requireDatabaseURL(cfg); err != nil {
		return err
	}

	migrator, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()

	return fn(migrator)
}

func runMigrateUp(cmd *cobra.Command, deps *Deps) error {
	return withMigrator(cmd, deps, func(m Migrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
		}
		printVersion(cmd, m)
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, deps *Deps) error {
	confirmed, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return oops.With("flag", "yes").Wrap(err)
	}
	steps, err := cmd.Flags().GetInt("steps")
	if err != nil {
		return oops.With("flag", "steps").Wrap(err)
	}
	if steps < 0 {
		return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("--steps must be 0 or greater")
	}
	if !confirmed {
		return oops.Code("CONFIRMATION_REQUIRED").
			Errorf("rolling back drops tables; re-run with --yes to confirm")
	}
	return withMigrator(cmd, deps, func(m Migrator) error {
		if steps > 0 {
			cmd.Printf("Rolling back %d migration(s)...\n", steps)
			if err := m.Steps(-steps); err != nil {
				return oops.Code("MIGRATION_FAILED").
					With("operation", "roll back migrations").
					With("steps", steps).
					Wrap(err)
			}
			printVersion(cmd, m)
			cmd.Println("Rollback completed successfully")
			return nil
		}
		cmd.Println("Rolling back migrations...")
		if err := m.Down(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "roll back migrations").Wrap(err)
		}
		cmd.Println("Rollback completed successfully")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, deps *Deps) error {
	return withMigrator(cmd, deps, func(m Migrator) error {
		printVersion(cmd, m)

		pending, err := m.PendingMigrations()
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "list pending migrations").Wrap(err)
		}
		if len(pending) == 0 {
			cmd.Println("No pending migrations")
			return nil
		}
		cmd.Printf("Pending migrations (%d):\n", len(pending))
		for _, v := range pending {
			name, err := store.MigrationName(v)
			if err != nil || name == "" {
				name = fmt.Sprintf("%06d", v)
			}
			cmd.Printf("  %s\n", name)
		}
		return nil
	})
}

func runMigrateForce(cmd *cobra.Command, deps *Deps, arg string) error {
	version, err := parseForceVersion(arg)
	if err != nil {
		return err
	}
	return withMigrator(cmd, deps, func(m Migrator) error {
		if err := m.Force(version); err != nil {
			return oops.Code("MIGRATION_FAILED").
				With("operation", "force version").
				With("version", version).
				Wrap(err)
		}
		cmd.Printf("Forced migration version to %d\n", version)
		return nil
	})
}

func printVersion(cmd *cobra.Command, m Migrator) {
	version, dirty, err := m.Version()
	switch {
	case err != nil:
		cmd.Printf("Current version: unknown (%v)\n", err)
	case version == 0:
		cmd.Println("Current version: none")
	case dirty:
		cmd.Printf("Current version: %d (dirty)\n", version)
	default:
		cmd.Printf("Current version: %d\n", version)
	}
}

// parseForceVersion parses the VERSION argument of "migrate force".
// -1 is accepted and means "no version".
func parseForceVersion(arg string) (int, error) {
	trimmed := strings.TrimSpace(arg)
	version, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", arg).Errorf("invalid version %q: must be an integer", arg)
	}
	if version < -1 {
		return 0, oops.Code("INVALID_VERSION").With("input", arg).Errorf("invalid version %d: must be -1 or greater", version)
	}
	return version, nil
}
