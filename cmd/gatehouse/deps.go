// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/control"
	"github.com/gatehouse/gatehouse/internal/events"
	"github.com/gatehouse/gatehouse/internal/observability"
)

// Deps contains injectable dependencies for the commands.
// Nil fields use their default implementations.
type Deps struct {
	// BackendOpener connects the configured store.
	// Default: openBackend
	BackendOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error)

	// MetricsServerFactory creates the metrics server.
	// Default: observability.NewServer
	MetricsServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) MetricsServer

	// HealthServerFactory creates the gRPC health server.
	// Default: control.NewHealthServer
	HealthServerFactory func(addr string, logger *slog.Logger) HealthServer
}

// MetricsServer wraps the methods used from observability.Server.
type MetricsServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// HealthServer wraps the methods used from control.HealthServer.
type HealthServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	SetServing(serving bool)
	SetSession(authenticated bool)
	Track(authenticated func() bool) events.Handler
}

func (d *Deps) withDefaults() *Deps {
	out := &Deps{}
	if d != nil {
		*out = *d
	}
	if out.BackendOpener == nil {
		out.BackendOpener = openBackend
	}
	if out.MetricsServerFactory == nil {
		out.MetricsServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) MetricsServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.HealthServerFactory == nil {
		out.HealthServerFactory = func(addr string, logger *slog.Logger) HealthServer {
			return control.NewHealthServer(addr, logger)
		}
	}
	return out
}
