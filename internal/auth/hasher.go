// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Default argon2id parameters (OWASP recommendation).
const (
	DefaultArgon2Memory     = 64 * 1024 // KiB
	DefaultArgon2Iterations = 1
	DefaultArgon2Threads    = 4
	argon2SaltLen           = 16
	argon2KeyLen            = 32
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides one-way salted hashing and verification.
// Stored forms are "salt:digest".
type PasswordHasher interface {
	// Hash produces a stored form for the password with a fresh random salt.
	Hash(password string) (string, error)

	// Verify recomputes the digest with the stored salt.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on a
	// malformed stored form.
	Verify(password, stored string) (bool, error)
}

// Argon2Params tunes the argon2id work factor.
type Argon2Params struct {
	Memory     uint32 // KiB
	Iterations uint32
	Threads    uint8
}

// DefaultArgon2Params returns the recommended parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:     DefaultArgon2Memory,
		Iterations: DefaultArgon2Iterations,
		Threads:    DefaultArgon2Threads,
	}
}

// Argon2idHasher implements PasswordHasher using argon2id as the digest.
// Parameters are not embedded in the stored form, so changing them
// invalidates existing hashes.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates a hasher. Zero fields in params fall back to defaults.
func NewArgon2idHasher(params Argon2Params) *Argon2idHasher {
	def := DefaultArgon2Params()
	if params.Memory == 0 {
		params.Memory = def.Memory
	}
	if params.Iterations == 0 {
		params.Iterations = def.Iterations
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	return &Argon2idHasher{params: params}
}

// Hash produces "base64(salt):base64(digest)".
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	digest := h.digest(password, salt, argon2KeyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + ":" + base64.RawStdEncoding.EncodeToString(digest), nil
}

// Verify checks if the password matches the stored form.
func (h *Argon2idHasher) Verify(password, stored string) (bool, error) {
	saltPart, digestPart, ok := strings.Cut(stored, ":")
	if !ok || saltPart == "" || digestPart == "" {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	salt, err := base64.RawStdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").With("part", "salt").Wrap(err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(digestPart)
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").With("part", "digest").Wrap(err)
	}

	keyLen := len(expected)
	if keyLen == 0 || keyLen > 1<<10 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid digest length: %d", keyLen)
	}

	computed := h.digest(password, salt, uint32(keyLen))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func (h *Argon2idHasher) digest(password string, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.Memory, h.params.Threads, keyLen)
}
