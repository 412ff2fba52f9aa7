// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultAgent names the session slot used when a process tracks a single
// session without further qualification.
const DefaultAgent = "default"

// PersistedSession is the durable snapshot of the active session, used to
// hydrate the session manager on process start.
type PersistedSession struct {
	Agent           string
	UserID          ulid.ULID
	AccessToken     string
	RefreshToken    string // empty if none was issued
	AccessExpiresAt time.Time
	SavedAt         time.Time
}

// NewPersistedSession creates a validated PersistedSession.
func NewPersistedSession(agent string, userID ulid.ULID, accessToken, refreshToken string, accessExpiresAt, now time.Time) (*PersistedSession, error) {
	if agent == "" {
		agent = DefaultAgent
	}
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if accessToken == "" {
		return nil, oops.Code("SESSION_INVALID_TOKEN").Errorf("access token cannot be empty")
	}
	if accessExpiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	return &PersistedSession{
		Agent:           agent,
		UserID:          userID,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: accessExpiresAt,
		SavedAt:         now,
	}, nil
}

// SessionStore persists at most one session snapshot per agent.
type SessionStore interface {
	// Load returns the snapshot for agent, or ErrNotFound.
	Load(ctx context.Context, agent string) (*PersistedSession, error)

	// Save replaces the snapshot for the session's agent.
	Save(ctx context.Context, session *PersistedSession) error

	// Clear removes the snapshot for agent. Clearing a missing snapshot is not an error.
	Clear(ctx context.Context, agent string) error
}
