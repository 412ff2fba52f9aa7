// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	verbose    bool
}

// NewRootCmd creates the gatehouse command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(nil)
}

func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	flags := &globalFlags{}
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "Gatehouse - identity and session management",
		Long: `Gatehouse manages user registration, login, password recovery and
email verification, and keeps one authenticated session per agent.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log to stderr")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd(flags, deps))
	cmd.AddCommand(NewMigrateCmd(flags))
	cmd.AddCommand(newClientCmds(flags, deps)...)

	return cmd
}

// loadConfig reads the configuration for cmd.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	//nolint:wrapcheck // config errors are already coded
	return config.Load(flags.configFile, cmd.Flags())
}

// clientLogger logs to stderr only when --verbose is set.
func clientLogger(cmd *cobra.Command, cfg *config.Config, flags *globalFlags) *slog.Logger {
	if !flags.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logging.Setup("gatehouse", version, cfg.Log.Format, cmd.ErrOrStderr())
}
