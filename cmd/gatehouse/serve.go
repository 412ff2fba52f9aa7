// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/events"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/session"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd(flags *globalFlags, deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session manager with its expiry scheduler",
		Long: `Restore the persisted session, keep it refreshed before it expires,
purge expired one-time tokens and expose metrics and health probes until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, flags, deps, nil)
		},
	}
}

// runServe runs until a signal arrives, ctx is cancelled or the metrics
// server fails. started, when non-nil, is closed once the service is ready.
func runServe(ctx context.Context, cmd *cobra.Command, flags *globalFlags, deps *Deps, started chan<- struct{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	logger := logging.Setup("gatehouse", version, cfg.Log.Format, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		ready   atomic.Bool
		srv     MetricsServer
		metrics *observability.Metrics
		rtRef   atomic.Pointer[runtime]
	)
	if cfg.Metrics.Addr != "" {
		srv = deps.MetricsServerFactory(cfg.Metrics.Addr, func() bool {
			rt := rtRef.Load()
			return ready.Load() && rt != nil && rt.backend.Ready(context.Background())
		}, logger)
		metrics = srv.Metrics()
	}

	rt, err := newRuntime(ctx, cfg, logger, deps, runtimeOptions{
		delivery: session.LogDelivery(logger),
		metrics:  metrics,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	rtRef.Store(rt)

	if _, err := rt.notifier.Subscribe("**", eventLogger(logger)); err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "subscribe event log").Wrap(err)
	}

	var health HealthServer
	if cfg.Control.Addr != "" {
		health = deps.HealthServerFactory(cfg.Control.Addr, logger)
		authenticated := func() bool { return rt.manager.State() == session.Authenticated }
		if _, err := rt.notifier.Subscribe("**", health.Track(authenticated)); err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "subscribe health tracker").Wrap(err)
		}
	}

	state, err := rt.manager.Restore(ctx)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "restore session").Wrap(err)
	}
	logger.Info("session state", "state", state.String())

	if err := rt.manager.Start(ctx); err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "start scheduler").Wrap(err)
	}

	if srv != nil {
		errCh, err := srv.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start metrics server").Wrap(err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping metrics server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, errCh, "metrics", logger)
	}

	if health != nil {
		health.SetSession(state == session.Authenticated)
		errCh, err := health.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start health server").Wrap(err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := health.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping health server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, errCh, "health", logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	if health != nil {
		health.SetServing(true)
	}
	cmd.Println("Gatehouse started")
	if started != nil {
		close(started)
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}
	ready.Store(false)
	if health != nil {
		health.SetServing(false)
	}
	logger.Info("shutdown complete")
	return nil
}

// eventLogger writes every published event to the log. Failure events are
// logged at warn level.
func eventLogger(logger *slog.Logger) events.Handler {
	return func(ctx context.Context, ev events.Event) {
		level := slog.LevelInfo
		if ev.Name.IsFailure() {
			level = slog.LevelWarn
		}
		attrs := []any{"event", ev.Name.String(), "event_id", ev.ID.String()}
		if ev.Payload.UserID != "" {
			attrs = append(attrs, "user_id", ev.Payload.UserID)
		}
		if ev.Payload.Error != "" {
			attrs = append(attrs, "error", ev.Payload.Error)
		}
		logger.Log(ctx, level, "event published", attrs...)
	}
}

// monitorServerErrors cancels ctx when a server reports a failure.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
