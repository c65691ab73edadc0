// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/snapwave/snapwave/internal/config"
	"github.com/snapwave/snapwave/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// flagKeys maps command-line flags to configuration keys. A flag only
// overrides the file and environment when it is set explicitly.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"database-url": "database.url",
	"migrate":      "database.migrate",
}

// NewRootCmd creates the root command for the SnapWave CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapwave",
		Short: "SnapWave - account and credential service",
		Long: `SnapWave manages user accounts: registration, login, password reset
and email verification.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	cmd.PersistentFlags().String("log-format", "json", "log format (json or text)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig merges defaults, the config file, SNAPWAVE_* variables and
// the flags of cmd. Without --config, $XDG_CONFIG_HOME/snapwave/config.yaml
// is used if it exists.
func loadConfig(cmd *cobra.Command, validate bool) (*config.Config, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return nil, err
		}
	}
	return config.Load(config.Options{
		File:           path,
		Flags:          cmd.Flags(),
		FlagKeys:       flagKeys,
		SkipValidation: !validate,
	})
}
