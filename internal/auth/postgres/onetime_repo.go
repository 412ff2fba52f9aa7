// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// OneTimeTokenRepository implements auth.OneTimeTokenRepository using PostgreSQL.
type OneTimeTokenRepository struct {
	db DBTX
}

// NewOneTimeTokenRepository creates a new OneTimeTokenRepository.
func NewOneTimeTokenRepository(db DBTX) *OneTimeTokenRepository {
	return &OneTimeTokenRepository{db: db}
}

// Save stores a token, replacing the user's outstanding token of the same kind.
func (r *OneTimeTokenRepository) Save(ctx context.Context, token *auth.OneTimeToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO onetime_tokens (id, kind, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, user_id) DO UPDATE SET
			id = EXCLUDED.id,
			token_hash = EXCLUDED.token_hash,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`,
		token.ID.String(),
		string(token.Kind),
		token.UserID.String(),
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("ONETIME_SAVE_FAILED").
			With("operation", "upsert onetime_token").
			With("kind", string(token.Kind)).
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Consume atomically deletes and returns the matching token.
func (r *OneTimeTokenRepository) Consume(ctx context.Context, kind auth.OneTimeKind, tokenHash string) (*auth.OneTimeToken, error) {
	var (
		idStr     string
		userIDStr string
		tok       = auth.OneTimeToken{Kind: kind, TokenHash: tokenHash}
	)
	err := r.db.QueryRow(ctx, `
		DELETE FROM onetime_tokens
		WHERE kind = $1 AND token_hash = $2
		RETURNING id, user_id, expires_at, created_at
	`, string(kind), tokenHash).Scan(&idStr, &userIDStr, &tok.ExpiresAt, &tok.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ONETIME_NOT_FOUND").
			With("kind", string(kind)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ONETIME_CONSUME_FAILED").
			With("operation", "delete returning onetime_token").
			With("kind", string(kind)).
			Wrap(err)
	}

	if tok.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("ONETIME_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if tok.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("ONETIME_INVALID_ID").With("user_id", userIDStr).Wrap(err)
	}
	tok.ExpiresAt = tok.ExpiresAt.UTC()
	tok.CreatedAt = tok.CreatedAt.UTC()
	return &tok, nil
}

// DeleteExpired removes tokens whose expiry is at or before before.
func (r *OneTimeTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM onetime_tokens WHERE expires_at <= $1
	`, before)
	if err != nil {
		return 0, oops.Code("ONETIME_PURGE_FAILED").
			With("operation", "delete expired onetime_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.OneTimeTokenRepository = (*OneTimeTokenRepository)(nil)
