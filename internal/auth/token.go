// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token lifetimes. Access < refresh < extended must always hold.
const (
	DefaultAccessTokenTTL   = time.Hour
	DefaultRefreshTokenTTL  = 7 * 24 * time.Hour
	DefaultExtendedTokenTTL = 30 * 24 * time.Hour

	// MinSigningKeyBytes is the shortest accepted HMAC key.
	MinSigningKeyBytes = 32
)

// TokenKind distinguishes access from refresh tokens. Both share TokenClaims.
type TokenKind string

// Token kinds.
const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenClaims are the claims embedded in every session token.
type TokenClaims struct {
	ID        string
	UserID    string
	Email     string
	Role      Role
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is the result of issuing credentials for a user.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	SigningKey  []byte
	Issuer      string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	ExtendedTTL time.Duration
}

// sessionClaims is the wire shape of a token. It is opaque to callers and
// only ever validated by this process.
type sessionClaims struct {
	jwt.RegisteredClaims
	Email string    `json:"email"`
	Role  Role      `json:"role"`
	Kind  TokenKind `json:"knd"`
}

// TokenIssuer mints and decodes opaque session tokens.
type TokenIssuer struct {
	key         []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	extendedTTL time.Duration
	clock       Clock
}

// NewTokenIssuer creates a TokenIssuer. Zero TTLs fall back to defaults.
func NewTokenIssuer(cfg TokenConfig, clock Clock) (*TokenIssuer, error) {
	if len(cfg.SigningKey) < MinSigningKeyBytes {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("min_bytes", MinSigningKeyBytes).
			Errorf("signing key must be at least %d bytes", MinSigningKeyBytes)
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}
	if cfg.ExtendedTTL <= 0 {
		cfg.ExtendedTTL = DefaultExtendedTokenTTL
	}
	if cfg.AccessTTL >= cfg.RefreshTTL || cfg.RefreshTTL >= cfg.ExtendedTTL {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("access_ttl", cfg.AccessTTL.String()).
			With("refresh_ttl", cfg.RefreshTTL.String()).
			With("extended_ttl", cfg.ExtendedTTL.String()).
			Errorf("token lifetimes must satisfy access < refresh < extended")
	}

	key := make([]byte, len(cfg.SigningKey))
	copy(key, cfg.SigningKey)

	return &TokenIssuer{
		key:         key,
		issuer:      cfg.Issuer,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		extendedTTL: cfg.ExtendedTTL,
		clock:       clock,
	}, nil
}

// Issue mints an access and refresh token for the user. When extended is
// set the refresh token gets the "remember me" lifetime.
func (ti *TokenIssuer) Issue(userID, email string, role Role, extended bool) (TokenPair, error) {
	access, accessExp, err := ti.sign(userID, email, role, TokenKindAccess, ti.accessTTL, time.Time{})
	if err != nil {
		return TokenPair{}, err
	}

	refreshTTL := ti.refreshTTL
	if extended {
		refreshTTL = ti.extendedTTL
	}
	refresh, refreshExp, err := ti.sign(userID, email, role, TokenKindRefresh, refreshTTL, time.Time{})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueAccess mints a new access token for the subject of a refresh token.
// The new expiry is strictly after notBefore; pass the prior access token's
// expiry so a refresh within the same second still moves it forward. A zero
// notBefore imposes no floor.
func (ti *TokenIssuer) IssueAccess(refresh *TokenClaims, notBefore time.Time) (string, time.Time, error) {
	if refresh == nil || refresh.Kind != TokenKindRefresh {
		return "", time.Time{}, oops.Code("TOKEN_KIND_MISMATCH").Errorf("access tokens can only be minted from refresh tokens")
	}
	return ti.sign(refresh.UserID, refresh.Email, refresh.Role, TokenKindAccess, ti.accessTTL, notBefore)
}

// Decode parses a token and verifies its integrity stamp. It does not
// check expiry; use IsValid on the returned ExpiresAt. Malformed or
// tampered input yields (nil, false).
func (ti *TokenIssuer) Decode(token string) (*TokenClaims, bool) {
	if token == "" {
		return nil, false
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return ti.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, false
	}
	if claims.Kind != TokenKindAccess && claims.Kind != TokenKindRefresh {
		return nil, false
	}

	out := &TokenClaims{
		ID:        claims.ID,
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		Kind:      claims.Kind,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, true
}

// IsValid reports whether expiry is still in the future.
func (ti *TokenIssuer) IsValid(expiry time.Time) bool {
	return ti.clock.Now().Before(expiry)
}

// AccessTTL returns the access token lifetime.
func (ti *TokenIssuer) AccessTTL() time.Duration {
	return ti.accessTTL
}

func (ti *TokenIssuer) sign(userID, email string, role Role, kind TokenKind, ttl time.Duration, notBefore time.Time) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").Errorf("user ID cannot be empty")
	}

	// NumericDate carries whole seconds; truncate so the returned expiry
	// matches what Decode reports.
	now := ti.clock.Now().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	if floor := notBefore.Truncate(time.Second); !notBefore.IsZero() && !expiresAt.After(floor) {
		expiresAt = floor.Add(time.Second)
	}

	claims := &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    ti.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: email,
		Role:  role,
		Kind:  kind,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").
			With("kind", string(kind)).
			Wrap(err)
	}
	return signed, expiresAt, nil
}
