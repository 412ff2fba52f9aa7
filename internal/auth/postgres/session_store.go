// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// SessionStore implements auth.SessionStore using PostgreSQL.
type SessionStore struct {
	db DBTX
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db DBTX) *SessionStore {
	return &SessionStore{db: db}
}

// Load returns the snapshot for agent.
func (s *SessionStore) Load(ctx context.Context, agent string) (*auth.PersistedSession, error) {
	var (
		userIDStr string
		refresh   *string
		ps        = auth.PersistedSession{Agent: agent}
	)
	err := s.db.QueryRow(ctx, `
		SELECT user_id, access_token, refresh_token, access_expires_at, saved_at
		FROM persisted_sessions
		WHERE agent = $1
	`, agent).Scan(&userIDStr, &ps.AccessToken, &refresh, &ps.AccessExpiresAt, &ps.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("agent", agent).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_LOAD_FAILED").
			With("operation", "select persisted_session").
			With("agent", agent).
			Wrap(err)
	}

	if ps.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_USER").With("user_id", userIDStr).Wrap(err)
	}
	if refresh != nil {
		ps.RefreshToken = *refresh
	}
	ps.AccessExpiresAt = ps.AccessExpiresAt.UTC()
	ps.SavedAt = ps.SavedAt.UTC()
	return &ps, nil
}

// Save replaces the snapshot for the session's agent.
func (s *SessionStore) Save(ctx context.Context, session *auth.PersistedSession) error {
	var refresh *string
	if session.RefreshToken != "" {
		refresh = &session.RefreshToken
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO persisted_sessions (agent, user_id, access_token, refresh_token, access_expires_at, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			access_expires_at = EXCLUDED.access_expires_at,
			saved_at = EXCLUDED.saved_at
	`,
		session.Agent,
		session.UserID.String(),
		session.AccessToken,
		refresh,
		session.AccessExpiresAt,
		session.SavedAt,
	)
	if err != nil {
		return oops.Code("SESSION_SAVE_FAILED").
			With("operation", "upsert persisted_session").
			With("agent", session.Agent).
			Wrap(err)
	}
	return nil
}

// Clear removes the snapshot for agent.
func (s *SessionStore) Clear(ctx context.Context, agent string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM persisted_sessions WHERE agent = $1`, agent)
	if err != nil {
		return oops.Code("SESSION_CLEAR_FAILED").
			With("operation", "delete persisted_session").
			With("agent", agent).
			Wrap(err)
	}
	return nil
}

var _ auth.SessionStore = (*SessionStore)(nil)
