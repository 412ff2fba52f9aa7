// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package store opens the relational backends and manages their schema.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tunes how a backend connection is established.
type ConnectOptions struct {
	// Attempts is the number of connection attempts. Zero means 5.
	Attempts uint64
	// Backoff is the base delay of the exponential backoff. Zero means 500ms.
	Backoff time.Duration
	Logger  *slog.Logger
}

func (o ConnectOptions) backoff() retry.Backoff {
	attempts := o.Attempts
	if attempts == 0 {
		attempts = 5
	}
	base := o.Backoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(10*time.Second, b)
	return retry.WithMaxRetries(attempts-1, b)
}

func (o ConnectOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// OpenPostgres creates a pgx pool and waits until the server answers a
// ping, retrying with exponential backoff while the database comes up.
func OpenPostgres(ctx context.Context, dsn string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	log := opts.logger()
	attempt := 0
	err = retry.Do(ctx, opts.backoff(), func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			log.Warn("database not ready", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
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
