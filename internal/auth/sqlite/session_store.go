// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// SessionStore implements auth.SessionStore.
type SessionStore struct {
	db DBTX
}

// NewSessionStore creates a SessionStore.
func NewSessionStore(db DBTX) *SessionStore {
	return &SessionStore{db: db}
}

// Load returns the snapshot for agent.
func (s *SessionStore) Load(ctx context.Context, agent string) (*auth.PersistedSession, error) {
	var (
		userStr           string
		refresh           sql.NullString
		expiresAt, saveAt string
		ps                = auth.PersistedSession{Agent: agent}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, access_token, refresh_token, access_expires_at, saved_at
		FROM persisted_sessions WHERE agent = ?
	`, agent).Scan(&userStr, &ps.AccessToken, &refresh, &expiresAt, &saveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").With("agent", agent).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_LOAD_FAILED").With("agent", agent).Wrap(err)
	}

	if ps.UserID, err = ulid.Parse(userStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_USER").With("user_id", userStr).Wrap(err)
	}
	ps.RefreshToken = refresh.String
	if ps.AccessExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if ps.SavedAt, err = parseTime(saveAt); err != nil {
		return nil, err
	}
	return &ps, nil
}

// Save replaces the snapshot for the session's agent.
func (s *SessionStore) Save(ctx context.Context, session *auth.PersistedSession) error {
	refresh := sql.NullString{String: session.RefreshToken, Valid: session.RefreshToken != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persisted_sessions (agent, user_id, access_token, refresh_token, access_expires_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent) DO UPDATE SET
			user_id = excluded.user_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			access_expires_at = excluded.access_expires_at,
			saved_at = excluded.saved_at
	`,
		session.Agent,
		session.UserID.String(),
		session.AccessToken,
		refresh,
		formatTime(session.AccessExpiresAt),
		formatTime(session.SavedAt),
	)
	if err != nil {
		return oops.Code("SESSION_SAVE_FAILED").With("agent", session.Agent).Wrap(err)
	}
	return nil
}

// Clear removes the snapshot for agent.
func (s *SessionStore) Clear(ctx context.Context, agent string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM persisted_sessions WHERE agent = ?`, agent); err != nil {
		return oops.Code("SESSION_CLEAR_FAILED").With("agent", agent).Wrap(err)
	}
	return nil
}

var _ auth.SessionStore = (*SessionStore)(nil)
