// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// One-time token configuration.
const (
	OneTimeTokenBytes           = 32 // 32 bytes = 64 hex chars
	DefaultResetTokenTTL        = 24 * time.Hour
	DefaultVerificationTokenTTL = 48 * time.Hour
)

// OneTimeKind identifies what a single-use token authorizes.
type OneTimeKind string

// One-time token kinds.
const (
	OneTimePasswordReset     OneTimeKind = "password_reset"
	OneTimeEmailVerification OneTimeKind = "email_verification"
)

// OneTimeToken is a single-use, time-boxed token keyed by user. Only the
// SHA-256 of the plaintext value is stored.
type OneTimeToken struct {
	ID        ulid.ULID
	Kind      OneTimeKind
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewOneTimeToken creates a validated OneTimeToken.
func NewOneTimeToken(kind OneTimeKind, userID ulid.ULID, tokenHash string, expiresAt, now time.Time) (*OneTimeToken, error) {
	if kind != OneTimePasswordReset && kind != OneTimeEmailVerification {
		return nil, oops.Code("ONETIME_INVALID_KIND").With("kind", string(kind)).Errorf("unknown one-time token kind")
	}
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("ONETIME_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("ONETIME_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("ONETIME_INVALID_EXPIRY").Errorf("expiry must be in the future")
	}
	return &OneTimeToken{
		ID:        ulid.Make(),
		Kind:      kind,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// IsExpiredAt returns true if the token is expired at t.
func (t *OneTimeToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// GenerateOneTimeToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext goes to the
// user; the hash is stored.
func GenerateOneTimeToken() (token, hash string, err error) {
	tokenBytes := make([]byte, OneTimeTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("ONETIME_TOKEN_GENERATE_FAILED").
			With("requested_bytes", OneTimeTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashOneTimeToken(token), nil
}

// HashOneTimeToken computes the hex SHA-256 of a token.
func HashOneTimeToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// OneTimeTokenRepository manages single-use token persistence.
type OneTimeTokenRepository interface {
	// Save stores a token, replacing any outstanding token of the same kind
	// for the same user.
	Save(ctx context.Context, token *OneTimeToken) error

	// Consume atomically removes and returns the token with the given kind
	// and hash. Returns ErrNotFound if there is none. Expiry is the
	// caller's concern, so expired tokens are consumed too.
	Consume(ctx context.Context, kind OneTimeKind, tokenHash string) (*OneTimeToken, error)

	// DeleteExpired removes tokens expired at before and returns the count.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
