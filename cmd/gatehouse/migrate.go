// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"path/filepath"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/store"
	"github.com/gatehouse/gatehouse/internal/xdg"
)

// migrator wraps the methods used from store.Migrator.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

type migratorFactory func(url string) (migrator, error)

func defaultMigratorFactory(url string) (migrator, error) {
	m, err := store.NewMigrator(url)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return m, nil
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd(flags *globalFlags) *cobra.Command {
	return newMigrateCmd(flags, defaultMigratorFactory)
}

func newMigrateCmd(flags *globalFlags, factory migratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back or inspect migrations of the configured sqlite or postgres store.`,
	}

	run := func(fn func(cmd *cobra.Command, m migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			url, err := migrationURL(cfg)
			if err != nil {
				return err
			}
			m, err := factory(url)
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
			}
			defer func() { _ = m.Close() }() //nolint:errcheck // command result takes precedence
			return fn(cmd, m, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, m migrator, _ []string) error {
			pending, err := m.PendingMigrations()
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			if len(pending) == 0 {
				cmd.Println("Schema is up to date")
				return nil
			}
			if err := m.Up(); err != nil {
				return err //nolint:wrapcheck // already coded
			}
			cmd.Printf("Applied %d migration(s)\n", len(pending))
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all data",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, m migrator, _ []string) error {
			if err := m.Down(); err != nil {
				return err //nolint:wrapcheck // already coded
			}
			cmd.Println("Rolled back all migrations")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, m migrator, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			if dirty {
				cmd.Printf("Version %d (dirty)\n", v)
				return nil
			}
			cmd.Printf("Version %d\n", v)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, m migrator, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return err //nolint:wrapcheck // already coded
			}
			cmd.Printf("Forced version %d\n", v)
			return nil
		}),
	})

	return cmd
}

func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer")
	}
	if v < 0 {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be non-negative")
	}
	return v, nil
}

func migrationURL(cfg *config.Config) (string, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		if err := xdg.EnsureDir(filepath.Dir(cfg.Store.SQLitePath)); err != nil {
			return "", err //nolint:wrapcheck // already coded
		}
		return store.SQLiteURL(cfg.Store.SQLitePath), nil
	case config.DriverPostgres:
		return cfg.Store.DatabaseURL, nil
	default:
		return "", oops.Code("MIGRATION_UNSUPPORTED").
			With("driver", cfg.Store.Driver).
			Errorf("the %s store has no schema", cfg.Store.Driver)
	}
}
