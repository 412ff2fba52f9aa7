// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// OneTimeTokenRepository implements auth.OneTimeTokenRepository.
type OneTimeTokenRepository struct {
	db DBTX
}

// NewOneTimeTokenRepository creates a OneTimeTokenRepository.
func NewOneTimeTokenRepository(db DBTX) *OneTimeTokenRepository {
	return &OneTimeTokenRepository{db: db}
}

// Save stores a token, replacing the user's outstanding token of the same kind.
func (r *OneTimeTokenRepository) Save(ctx context.Context, token *auth.OneTimeToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO onetime_tokens (id, kind, user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, user_id) DO UPDATE SET
			id = excluded.id,
			token_hash = excluded.token_hash,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`,
		token.ID.String(),
		string(token.Kind),
		token.UserID.String(),
		token.TokenHash,
		formatTime(token.ExpiresAt),
		formatTime(token.CreatedAt),
	)
	if err != nil {
		return oops.Code("ONETIME_SAVE_FAILED").
			With("operation", "upsert token").
			With("kind", string(token.Kind)).
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Consume atomically deletes and returns the matching token.
func (r *OneTimeTokenRepository) Consume(ctx context.Context, kind auth.OneTimeKind, tokenHash string) (*auth.OneTimeToken, error) {
	var (
		idStr, userStr       string
		expiresAt, createdAt string
	)
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM onetime_tokens
		WHERE kind = ? AND token_hash = ?
		RETURNING id, user_id, expires_at, created_at
	`, string(kind), tokenHash).Scan(&idStr, &userStr, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("ONETIME_NOT_FOUND").With("kind", string(kind)).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ONETIME_CONSUME_FAILED").
			With("operation", "delete returning").
			With("kind", string(kind)).
			Wrap(err)
	}

	tok := &auth.OneTimeToken{Kind: kind, TokenHash: tokenHash}
	if tok.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("ONETIME_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if tok.UserID, err = ulid.Parse(userStr); err != nil {
		return nil, oops.Code("ONETIME_INVALID_ID").With("user_id", userStr).Wrap(err)
	}
	if tok.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if tok.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return tok, nil
}

// DeleteExpired removes tokens whose expiry is at or before before.
func (r *OneTimeTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM onetime_tokens WHERE expires_at <= ?`, formatTime(before))
	if err != nil {
		return 0, oops.Code("ONETIME_PURGE_FAILED").With("operation", "delete expired").Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, oops.Code("ONETIME_PURGE_FAILED").With("operation", "rows affected").Wrap(err)
	}
	return n, nil
}

var _ auth.OneTimeTokenRepository = (*OneTimeTokenRepository)(nil)
