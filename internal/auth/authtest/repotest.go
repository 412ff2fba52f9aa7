// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package authtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// Epoch is a fixed, second-aligned timestamp for storage tests.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewTestUser builds a user with a fixed timestamp.
func NewTestUser(t *testing.T, email string) *auth.User {
	t.Helper()
	u, err := auth.NewUser(email, "c2FsdA:ZGlnZXN0", auth.RoleIndividual,
		auth.Profile{FirstName: "Test", LastName: "User"}, Epoch)
	require.NoError(t, err)
	return u
}

// UserRepositoryContract exercises the behavior every auth.UserRepository
// must share. newRepo must return an empty repository.
func UserRepositoryContract(t *testing.T, newRepo func(t *testing.T) auth.UserRepository) {
	ctx := context.Background()

	t.Run("create then find", func(t *testing.T) {
		repo := newRepo(t)
		u := NewTestUser(t, "alice@example.com")
		require.NoError(t, repo.Create(ctx, u))

		byID, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Email, byID.Email)
		assert.Equal(t, u.PasswordHash, byID.PasswordHash)
		assert.Equal(t, u.Profile, byID.Profile)
		assert.True(t, u.CreatedAt.Equal(byID.CreatedAt))

		byEmail, err := repo.FindByEmail(ctx, "ALICE@Example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
	})

	t.Run("duplicate email conflicts case-insensitively", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, NewTestUser(t, "bob@example.com")))

		dup := NewTestUser(t, "bob@example.com")
		dup.Email = "BOB@example.com"
		err := repo.Create(ctx, dup)
		assert.True(t, auth.IsKind(err, auth.KindConflict), "got %v", err)
	})

	t.Run("missing user", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindByID(ctx, ulid.Make())
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		_, err = repo.FindByEmail(ctx, "nobody@example.com")
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		assert.True(t, errors.Is(repo.UpdatePassword(ctx, ulid.Make(), "h", Epoch), auth.ErrNotFound))
		assert.True(t, errors.Is(repo.MarkEmailVerified(ctx, ulid.Make(), Epoch), auth.ErrNotFound))
	})

	t.Run("targeted updates do not clobber each other", func(t *testing.T) {
		repo := newRepo(t)
		u := NewTestUser(t, "carol@example.com")
		require.NoError(t, repo.Create(ctx, u))

		stale := *u
		require.NoError(t, repo.UpdatePassword(ctx, u.ID, "bmV3:aGFzaA", Epoch.Add(time.Minute)))
		require.NoError(t, repo.MarkEmailVerified(ctx, u.ID, Epoch.Add(2*time.Minute)))

		stale.Profile.FirstName = "Caroline"
		stale.PasswordHash = "stale"
		stale.EmailVerified = false
		stale.UpdatedAt = Epoch.Add(3 * time.Minute)
		require.NoError(t, repo.Update(ctx, &stale))

		got, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Caroline", got.Profile.FirstName)
		assert.Equal(t, "bmV3:aGFzaA", got.PasswordHash)
		assert.True(t, got.EmailVerified)
		assert.True(t, got.UpdatedAt.Equal(Epoch.Add(3*time.Minute)))
	})

	t.Run("returned users are copies", func(t *testing.T) {
		repo := newRepo(t)
		u := NewTestUser(t, "dave@example.com")
		require.NoError(t, repo.Create(ctx, u))

		got, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		got.Profile.FirstName = "mutated"

		again, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Test", again.Profile.FirstName)
	})
}

// OneTimeTokenRepositoryContract exercises the behavior every
// auth.OneTimeTokenRepository must share. users is used to create the
// owning user for stores that enforce foreign keys.
func OneTimeTokenRepositoryContract(t *testing.T, newRepos func(t *testing.T) (auth.UserRepository, auth.OneTimeTokenRepository)) {
	ctx := context.Background()

	setup := func(t *testing.T) (auth.OneTimeTokenRepository, *auth.User) {
		users, tokens := newRepos(t)
		u := NewTestUser(t, "tok@example.com")
		require.NoError(t, users.Create(ctx, u))
		return tokens, u
	}
	newToken := func(t *testing.T, kind auth.OneTimeKind, userID ulid.ULID, hash string, ttl time.Duration) *auth.OneTimeToken {
		tok, err := auth.NewOneTimeToken(kind, userID, hash, Epoch.Add(ttl), Epoch)
		require.NoError(t, err)
		return tok
	}

	t.Run("consume is single use", func(t *testing.T) {
		repo, u := setup(t)
		require.NoError(t, repo.Save(ctx, newToken(t, auth.OneTimePasswordReset, u.ID, "h1", time.Hour)))

		got, err := repo.Consume(ctx, auth.OneTimePasswordReset, "h1")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.UserID)
		assert.True(t, got.ExpiresAt.Equal(Epoch.Add(time.Hour)))

		_, err = repo.Consume(ctx, auth.OneTimePasswordReset, "h1")
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})

	t.Run("kinds are separate", func(t *testing.T) {
		repo, u := setup(t)
		require.NoError(t, repo.Save(ctx, newToken(t, auth.OneTimePasswordReset, u.ID, "same", time.Hour)))

		_, err := repo.Consume(ctx, auth.OneTimeEmailVerification, "same")
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		_, err = repo.Consume(ctx, auth.OneTimePasswordReset, "same")
		assert.NoError(t, err)
	})

	t.Run("save replaces outstanding token of the same kind", func(t *testing.T) {
		repo, u := setup(t)
		require.NoError(t, repo.Save(ctx, newToken(t, auth.OneTimePasswordReset, u.ID, "old", time.Hour)))
		require.NoError(t, repo.Save(ctx, newToken(t, auth.OneTimeEmailVerification, u.ID, "verify", time.Hour)))
		require.NoError(t, repo.Save(ctx, newToken(t, auth.OneTimePasswordReset, u.ID, "new", time.Hour)))

		_, err := repo.Consume(ctx, auth.OneTimePasswordReset, "old")
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		_, err = repo.Consume(ctx, auth.OneTimePasswordReset, "new")
		assert.NoError(t, err)
		_, err = repo.Consume(ctx, auth.OneTimeEmailVerification, "verify")
		assert.NoError(t, err)
	})

	t.Run("expired tokens are still consumable until purged", func(t *testing.T) {
		repo, u := setup(t)
		require.NoError(t, repo.Save(ctx, newToken(t, auth.OneTimePasswordReset, u.ID, "short", time.Minute)))
		require.NoError(t, repo.Save(ctx, newToken(t, auth.OneTimeEmailVerification, u.ID, "long", 48*time.Hour)))

		n, err := repo.DeleteExpired(ctx, Epoch.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = repo.Consume(ctx, auth.OneTimePasswordReset, "short")
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		_, err = repo.Consume(ctx, auth.OneTimeEmailVerification, "long")
		assert.NoError(t, err)
	})

	t.Run("concurrent consume succeeds once", func(t *testing.T) {
		repo, u := setup(t)
		require.NoError(t, repo.Save(ctx, newToken(t, auth.OneTimePasswordReset, u.ID, "race", time.Hour)))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.Consume(ctx, auth.OneTimePasswordReset, "race"); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

// SessionStoreContract exercises the behavior every auth.SessionStore must share.
func SessionStoreContract(t *testing.T, newStores func(t *testing.T) (auth.UserRepository, auth.SessionStore)) {
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, store := newStores(t)
		_, err := store.Load(ctx, auth.DefaultAgent)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		assert.NoError(t, store.Clear(ctx, auth.DefaultAgent))
	})

	t.Run("save load replace clear", func(t *testing.T) {
		users, store := newStores(t)
		u := NewTestUser(t, "sess@example.com")
		require.NoError(t, users.Create(ctx, u))

		first, err := auth.NewPersistedSession("", u.ID, "access-1", "refresh-1", Epoch.Add(time.Hour), Epoch)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, first))

		got, err := store.Load(ctx, auth.DefaultAgent)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.UserID)
		assert.Equal(t, "access-1", got.AccessToken)
		assert.Equal(t, "refresh-1", got.RefreshToken)
		assert.True(t, got.AccessExpiresAt.Equal(Epoch.Add(time.Hour)))

		second, err := auth.NewPersistedSession("", u.ID, "access-2", "", Epoch.Add(2*time.Hour), Epoch.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, second))

		got, err = store.Load(ctx, auth.DefaultAgent)
		require.NoError(t, err)
		assert.Equal(t, "access-2", got.AccessToken)
		assert.Empty(t, got.RefreshToken)

		require.NoError(t, store.Clear(ctx, auth.DefaultAgent))
		_, err = store.Load(ctx, auth.DefaultAgent)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})
}
