// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/events"
)

const refreshKey = "refresh"

// RefreshAccessToken mints a new access token from the session's refresh
// token; the refresh token itself is unchanged. It returns (nil, nil) when
// there is nothing to refresh, and when the refresh token is expired or
// undecodable, in which case the session is logged out. Concurrent callers
// share one refresh.
func (m *Manager) RefreshAccessToken(ctx context.Context) (*Session, error) {
	v, err, _ := m.flight.Do(refreshKey, func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded by refresh
	}
	s, _ := v.(*Session)
	return s, nil
}

func (m *Manager) refresh(ctx context.Context) (*Session, error) {
	prev := m.snapshot()
	if prev == nil || prev.RefreshToken == "" {
		return nil, nil
	}

	m.refreshing.Store(true)
	defer m.refreshing.Store(false)

	claims, ok := m.issuer.Decode(prev.RefreshToken)
	var reason string
	switch {
	case !ok || claims.Kind != auth.TokenKindRefresh:
		reason = "refresh token is malformed"
	case claims.UserID != prev.User.ID:
		reason = "refresh token belongs to another user"
	case !m.issuer.IsValid(claims.ExpiresAt):
		reason = "refresh token expired"
	}
	if reason != "" {
		err := auth.NewInvalidTokenError(reason)
		m.metrics.ObserveOperation(OpRefresh, err)
		m.fail(ctx, events.TokenRefreshFailed, events.Payload{UserID: prev.User.ID, Email: prev.User.Email}, err)
		m.log.InfoContext(ctx, "refresh failed, logging out", "user_id", prev.User.ID, "reason", reason)
		m.endSession(ctx, prev)
		return nil, nil
	}

	access, expiresAt, err := m.issuer.IssueAccess(claims, prev.ExpiresAt)
	if err != nil {
		err = oops.Code("SESSION_REFRESH_FAILED").With("user_id", prev.User.ID).Wrap(err)
		m.metrics.ObserveOperation(OpRefresh, err)
		m.fail(ctx, events.TokenRefreshFailed, events.Payload{UserID: prev.User.ID}, err)
		return nil, err
	}

	next := *prev
	next.AccessToken = access
	next.ExpiresAt = expiresAt
	if !m.swap(prev, &next) {
		m.log.DebugContext(ctx, "session replaced during refresh", "user_id", prev.User.ID)
		return nil, nil
	}
	m.persist(ctx, &next)

	m.metrics.ObserveOperation(OpRefresh, nil)
	m.events.Publish(ctx, events.TokenRefreshed, events.Payload{UserID: next.User.ID})
	out := next
	return &out, nil
}

// CheckExpiry refreshes the session when its access token expires within
// the refresh horizon. It reports whether a refresh happened.
func (m *Manager) CheckExpiry(ctx context.Context) (bool, error) {
	cur := m.snapshot()
	if cur == nil {
		return false, nil
	}
	if cur.ExpiresAt.Sub(m.clock.Now()) > m.refreshHorizon {
		return false, nil
	}
	s, err := m.RefreshAccessToken(ctx)
	return s != nil, err
}

// Restore hydrates the manager from the persisted session. A valid access
// token is reinstated as is; an expired one is refreshed when a refresh
// token exists. Anything else leaves the manager unauthenticated.
func (m *Manager) Restore(ctx context.Context) (State, error) {
	if m.store == nil {
		return m.State(), nil
	}

	ps, err := m.store.Load(ctx, m.agent)
	if errors.Is(err, auth.ErrNotFound) {
		return Unauthenticated, nil
	}
	if err != nil {
		return Unauthenticated, oops.Code("SESSION_RESTORE_FAILED").
			With("operation", "load persisted session").
			With("agent", m.agent).
			Wrap(err)
	}

	user, err := m.users.FindByID(ctx, ps.UserID)
	if errors.Is(err, auth.ErrNotFound) {
		m.discardPersisted(ctx)
		return Unauthenticated, nil
	}
	if err != nil {
		return Unauthenticated, oops.Code("SESSION_RESTORE_FAILED").
			With("operation", "find user").
			With("user_id", ps.UserID.String()).
			Wrap(err)
	}

	s := &Session{
		User:         user.Public(),
		AccessToken:  ps.AccessToken,
		RefreshToken: ps.RefreshToken,
		ExpiresAt:    ps.AccessExpiresAt,
	}

	claims, ok := m.issuer.Decode(ps.AccessToken)
	if ok && claims.Kind == auth.TokenKindAccess && claims.UserID == s.User.ID && m.issuer.IsValid(ps.AccessExpiresAt) {
		m.mu.Lock()
		m.current = s
		m.mu.Unlock()
		m.log.InfoContext(ctx, "session restored", "user_id", s.User.ID)
		return Authenticated, nil
	}

	if ps.RefreshToken == "" {
		m.discardPersisted(ctx)
		return Unauthenticated, nil
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	refreshed, err := m.RefreshAccessToken(ctx)
	if err != nil {
		return m.State(), err
	}
	if refreshed == nil {
		return Unauthenticated, nil
	}
	m.log.InfoContext(ctx, "session restored after refresh", "user_id", s.User.ID)
	return Authenticated, nil
}

func (m *Manager) discardPersisted(ctx context.Context) {
	if err := m.store.Clear(ctx, m.agent); err != nil {
		m.log.WarnContext(ctx, "stale persisted session not cleared", "error", err)
	}
}

func parseUserID(id string) (ulid.ULID, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return ulid.ULID{}, oops.Code("SESSION_INVALID_USER").With("user_id", id).Wrap(err)
	}
	return parsed, nil
}
