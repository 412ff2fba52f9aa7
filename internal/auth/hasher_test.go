// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/authtest"
)

func TestHashPassword(t *testing.T) {
	hasher := authtest.FastHasher()

	t.Run("produces salt:digest form", func(t *testing.T) {
		hash, err := hasher.Hash("Abcd123!")
		require.NoError(t, err)
		parts := strings.Split(hash, ":")
		require.Len(t, parts, 2)
		assert.NotEmpty(t, parts[0])
		assert.NotEmpty(t, parts[1])
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		hash2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		assert.ErrorIs(t, err, auth.ErrEmptyPassword)
	})
}

func TestVerifyPassword(t *testing.T) {
	hasher := authtest.FastHasher()

	t.Run("correct password verifies", func(t *testing.T) {
		for _, password := range []string{"Abcd123!", "correct horse battery staple", "ünïcødé-Pässwörd1"} {
			hash, err := hasher.Hash(password)
			require.NoError(t, err)

			ok, err := hasher.Verify(password, hash)
			require.NoError(t, err)
			assert.True(t, ok, password)
		}
	})

	t.Run("different password fails", func(t *testing.T) {
		hash, err := hasher.Hash("Abcd123!")
		require.NoError(t, err)

		for _, other := range []string{"Abcd123?", "abcd123!", "Abcd123", "Abcd123!!", ""} {
			ok, err := hasher.Verify(other, hash)
			require.NoError(t, err)
			assert.False(t, ok, other)
		}
	})

	t.Run("default parameters round trip", func(t *testing.T) {
		h := auth.NewArgon2idHasher(auth.Argon2Params{})
		hash, err := h.Hash("Abcd123!")
		require.NoError(t, err)
		ok, err := h.Verify("Abcd123!", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("hash from different parameters does not verify", func(t *testing.T) {
		hash, err := hasher.Hash("Abcd123!")
		require.NoError(t, err)

		other := auth.NewArgon2idHasher(auth.Argon2Params{Memory: 128, Iterations: 2, Threads: 1})
		ok, err := other.Verify("Abcd123!", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	malformed := []struct {
		name   string
		stored string
	}{
		{"missing separator", "not-a-valid-hash"},
		{"empty salt", ":aGFzaA"},
		{"empty digest", "c2FsdA:"},
		{"invalid salt base64", "!!!invalid!!!:aGFzaA"},
		{"invalid digest base64", "c2FsdA:!!!invalid!!!"},
	}
	for _, tt := range malformed {
		t.Run("malformed stored form: "+tt.name, func(t *testing.T) {
			ok, err := hasher.Verify("password", tt.stored)
			require.Error(t, err)
			assert.False(t, ok)
		})
	}
}
