// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/pkg/errutil"
)

type scheduler struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs the expiry check every ExpiryCheckInterval until Stop is
// called or ctx is done. Each tick refreshes a session close to expiry and
// purges expired single-use tokens.
func (m *Manager) Start(ctx context.Context) error {
	m.sched.mu.Lock()
	defer m.sched.mu.Unlock()
	if m.sched.cancel != nil {
		return oops.Code("SESSION_SCHEDULER_RUNNING").Errorf("expiry scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.sched.cancel = cancel
	m.sched.done = done

	go m.runScheduler(ctx, done)
	m.log.Debug("expiry scheduler started", "interval", m.checkInterval)
	return nil
}

// Stop halts the scheduler and waits for an in-flight tick to finish.
func (m *Manager) Stop() {
	m.sched.mu.Lock()
	defer m.sched.mu.Unlock()
	if m.sched.cancel == nil {
		return
	}
	m.sched.cancel()
	<-m.sched.done
	m.sched.cancel = nil
	m.sched.done = nil
	m.log.Debug("expiry scheduler stopped")
}

func (m *Manager) runScheduler(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	if _, err := m.CheckExpiry(ctx); err != nil {
		errutil.LogError(m.log, "expiry check failed", err)
	}
	n, err := m.PurgeExpiredTokens(ctx)
	if err != nil {
		errutil.LogError(m.log, "expired token purge failed", err)
		return
	}
	if n > 0 {
		m.log.Debug("purged expired tokens", "count", n)
	}
}
