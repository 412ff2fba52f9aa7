// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/memory"
	"github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/auth/sqlite"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/store"
	"github.com/gatehouse/gatehouse/internal/xdg"
)

// AuditHistory lists recorded audit entries for a user, newest first.
type AuditHistory interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]audit.Entry, error)
}

// Backend bundles the repositories of one store driver.
type Backend struct {
	Users   auth.UserRepository
	Tokens  auth.OneTimeTokenRepository
	Store   auth.SessionStore
	Audit   audit.Writer
	History AuditHistory // nil when the driver keeps no audit history
	Ready   func(ctx context.Context) bool
	Close   func()
}

// openBackend connects the configured driver and brings its schema up to
// date.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return &Backend{
			Users:  memory.NewUserRepository(),
			Tokens: memory.NewOneTimeTokenRepository(),
			Store:  memory.NewSessionStore(),
			Audit:  audit.NewSlogWriter(logger),
			Ready:  func(context.Context) bool { return true },
			Close:  func() {},
		}, nil

	case config.DriverSQLite:
		path := cfg.Store.SQLitePath
		if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, oops.With("operation", "create sqlite directory").Wrap(err)
		}
		if err := migrateUp(store.SQLiteURL(path)); err != nil {
			return nil, err
		}
		db, err := store.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err //nolint:wrapcheck // already coded
		}
		writer := sqlite.NewAuditWriter(db)
		return &Backend{
			Users:   sqlite.NewUserRepository(db),
			Tokens:  sqlite.NewOneTimeTokenRepository(db),
			Store:   sqlite.NewSessionStore(db),
			Audit:   writer,
			History: writer,
			Ready:   func(ctx context.Context) bool { return db.PingContext(ctx) == nil },
			Close: func() {
				if err := db.Close(); err != nil {
					logger.Warn("closing sqlite database", "error", err)
				}
			},
		}, nil

	case config.DriverPostgres:
		pool, err := store.OpenPostgres(ctx, cfg.Store.DatabaseURL, store.ConnectOptions{Logger: logger})
		if err != nil {
			return nil, err //nolint:wrapcheck // already coded
		}
		if err := migrateUp(cfg.Store.DatabaseURL); err != nil {
			pool.Close()
			return nil, err
		}
		writer := postgres.NewAuditWriter(pool)
		return &Backend{
			Users:   postgres.NewUserRepository(pool),
			Tokens:  postgres.NewOneTimeTokenRepository(pool),
			Store:   postgres.NewSessionStore(pool),
			Audit:   writer,
			History: writer,
			Ready:   func(ctx context.Context) bool { return pool.Ping(ctx) == nil },
			Close:   pool.Close,
		}, nil

	default:
		return nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Store.Driver).Errorf("unknown store driver")
	}
}

func migrateUp(url string) error {
	m, err := store.NewMigrator(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() { _ = m.Close() }() //nolint:errcheck // migration result takes precedence
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	return nil
}
