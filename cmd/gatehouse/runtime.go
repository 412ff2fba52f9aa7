// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/events"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/session"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// runtime is a fully wired session manager and everything it owns.
type runtime struct {
	cfg      *config.Config
	log      *slog.Logger
	backend  *Backend
	notifier *events.Notifier
	audit    *audit.Logger
	manager  *session.Manager
}

type runtimeOptions struct {
	delivery session.Delivery
	metrics  *observability.Metrics // nil disables metrics
}

// newRuntime opens the backend and wires a session manager over it. The
// caller must Close the runtime.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Deps, opts runtimeOptions) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	clock := auth.SystemClock()
	issuer, err := auth.NewTokenIssuer(cfg.TokenConfig(key), clock)
	if err != nil {
		return nil, oops.Code("RUNTIME_INIT_FAILED").With("operation", "create token issuer").Wrap(err)
	}

	rt.backend, err = deps.BackendOpener(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	notifierOpts := []events.Option{}
	if opts.metrics != nil {
		notifierOpts = append(notifierOpts, events.WithOnDrop(opts.metrics.ObserveDrop))
	}
	rt.notifier, err = events.NewNotifier(logger, notifierOpts...)
	if err != nil {
		return nil, oops.Code("RUNTIME_INIT_FAILED").With("operation", "create notifier").Wrap(err)
	}

	rt.audit, err = audit.NewLogger(rt.backend.Audit, cfg.Audit.WALPath, logger)
	if err != nil {
		return nil, oops.Code("RUNTIME_INIT_FAILED").With("operation", "create audit logger").Wrap(err)
	}
	if _, err := rt.audit.ReplayWAL(ctx); err != nil {
		errutil.LogWarn(logger, "audit WAL replay failed", err)
	}

	mcfg := session.Config{
		Users:                rt.backend.Users,
		Tokens:               rt.backend.Tokens,
		Hasher:               auth.NewArgon2idHasher(cfg.HasherParams()),
		Issuer:               issuer,
		Limiter:              auth.NewRateLimiter(cfg.RateLimit.Threshold, cfg.RateLimit.Window, clock),
		Logger:               logger,
		Events:               rt.notifier,
		Audit:                rt.audit,
		Store:                rt.backend.Store,
		Delivery:             opts.delivery,
		Clock:                clock,
		Agent:                cfg.Store.Agent,
		ResetTokenTTL:        cfg.Session.ResetTokenTTL,
		VerificationTokenTTL: cfg.Session.VerificationTokenTTL,
		ExpiryCheckInterval:  cfg.Session.ExpiryCheckInterval,
		RefreshHorizon:       cfg.Session.RefreshHorizon,
	}
	if opts.metrics != nil {
		mcfg.Metrics = opts.metrics
	}
	rt.manager, err = session.NewManager(mcfg)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return rt, nil
}

// Close stops the scheduler, drains events and audit entries, then closes
// the backend. It is safe on a partially built runtime.
func (rt *runtime) Close() {
	if rt.manager != nil {
		rt.manager.Stop()
	}
	if rt.notifier != nil {
		rt.notifier.Close()
	}
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			errutil.LogWarn(rt.log, "closing audit logger", err)
		}
	}
	if rt.backend != nil {
		rt.backend.Close()
	}
}
