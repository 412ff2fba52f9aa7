// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package store

import (
	"context"
	"database/sql"

	"github.com/samber/oops"
	// Register the pure-Go sqlite driver for database/sql.
	_ "modernc.org/sqlite"
)

// OpenSQLite opens the database file at path with WAL journaling and
// foreign key enforcement. SQLite serializes writers, so the pool is
// capped at one connection.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "open sqlite").With("path", path).Wrap(err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close() //nolint:errcheck // pragma error takes precedence
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", pragma).With("path", path).Wrap(err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping sqlite").With("path", path).Wrap(err)
	}
	return db, nil
}

// SQLiteURL returns the migration URL for a database file.
func SQLiteURL(path string) string {
	return "sqlite://" + path
}
