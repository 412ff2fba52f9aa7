// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package memory provides in-memory implementations of the auth storage
// interfaces. They are safe for concurrent use and hand out copies, so
// callers can never mutate stored records by accident.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// UserRepository is an in-memory auth.UserRepository.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

// NewUserRepository creates an empty in-memory user repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a new user, rejecting duplicate emails.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	email := auth.NormalizeEmail(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[email]; exists {
		return auth.NewConflictError(email)
	}
	stored := *user
	stored.Email = email
	r.byID[user.ID] = &stored
	r.byEmail[email] = user.ID
	return nil
}

// FindByID retrieves a user by ID.
func (r *UserRepository) FindByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *u
	return &out, nil
}

// FindByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *r.byID[id]
	return &out, nil
}

// Update writes the profile and UpdatedAt of an existing user.
func (r *UserRepository) Update(_ context.Context, user *auth.User) error {
	return r.mutate(user.ID, func(u *auth.User) {
		u.Profile = user.Profile
		u.UpdatedAt = user.UpdatedAt
	})
}

// UpdatePassword replaces the password hash of an existing user.
func (r *UserRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string, at time.Time) error {
	return r.mutate(id, func(u *auth.User) {
		u.PasswordHash = passwordHash
		u.UpdatedAt = at
	})
}

// MarkEmailVerified flags the user's email as verified.
func (r *UserRepository) MarkEmailVerified(_ context.Context, id ulid.ULID, at time.Time) error {
	return r.mutate(id, func(u *auth.User) {
		u.EmailVerified = true
		u.UpdatedAt = at
	})
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *UserRepository) mutate(id ulid.ULID, fn func(*auth.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(u)
	return nil
}

type oneTimeKey struct {
	kind auth.OneTimeKind
	hash string
}

type userSlot struct {
	kind   auth.OneTimeKind
	userID ulid.ULID
}

// OneTimeTokenRepository is an in-memory auth.OneTimeTokenRepository.
type OneTimeTokenRepository struct {
	mu     sync.Mutex
	tokens map[oneTimeKey]*auth.OneTimeToken
	byUser map[userSlot]oneTimeKey
}

// NewOneTimeTokenRepository creates an empty in-memory token repository.
func NewOneTimeTokenRepository() *OneTimeTokenRepository {
	return &OneTimeTokenRepository{
		tokens: make(map[oneTimeKey]*auth.OneTimeToken),
		byUser: make(map[userSlot]oneTimeKey),
	}
}

// Save stores token, replacing any outstanding token of the same kind for the user.
func (r *OneTimeTokenRepository) Save(_ context.Context, token *auth.OneTimeToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := userSlot{kind: token.Kind, userID: token.UserID}
	if prev, ok := r.byUser[slot]; ok {
		delete(r.tokens, prev)
	}
	key := oneTimeKey{kind: token.Kind, hash: token.TokenHash}
	stored := *token
	r.tokens[key] = &stored
	r.byUser[slot] = key
	return nil
}

// Consume removes and returns the token with the given kind and hash.
func (r *OneTimeTokenRepository) Consume(_ context.Context, kind auth.OneTimeKind, tokenHash string) (*auth.OneTimeToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := oneTimeKey{kind: kind, hash: tokenHash}
	tok, ok := r.tokens[key]
	if !ok {
		return nil, auth.ErrNotFound
	}
	delete(r.tokens, key)
	delete(r.byUser, userSlot{kind: kind, userID: tok.UserID})
	return tok, nil
}

// DeleteExpired removes tokens that expired at or before before.
func (r *OneTimeTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key, tok := range r.tokens {
		if tok.IsExpiredAt(before) {
			delete(r.tokens, key)
			delete(r.byUser, userSlot{kind: tok.Kind, userID: tok.UserID})
			n++
		}
	}
	return n, nil
}

// Len returns the number of outstanding tokens.
func (r *OneTimeTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// SessionStore is an in-memory auth.SessionStore.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*auth.PersistedSession
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*auth.PersistedSession)}
}

// Load returns the snapshot for agent.
func (s *SessionStore) Load(_ context.Context, agent string) (*auth.PersistedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.sessions[agent]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *ps
	return &out, nil
}

// Save replaces the snapshot for the session's agent.
func (s *SessionStore) Save(_ context.Context, session *auth.PersistedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *session
	s.sessions[session.Agent] = &stored
	return nil
}

// Clear removes the snapshot for agent.
func (s *SessionStore) Clear(_ context.Context, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, agent)
	return nil
}

var (
	_ auth.UserRepository         = (*UserRepository)(nil)
	_ auth.OneTimeTokenRepository = (*OneTimeTokenRepository)(nil)
	_ auth.SessionStore           = (*SessionStore)(nil)
)
