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

const userColumns = `id, email, password_hash, role, email_verified,
	first_name, last_name, phone, business_name, business_type, tax_id,
	created_at, updated_at`

// UserRepository implements auth.UserRepository.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID.String(),
		user.Email,
		user.PasswordHash,
		string(user.Role),
		boolToInt(user.EmailVerified),
		user.Profile.FirstName,
		user.Profile.LastName,
		user.Profile.Phone,
		user.Profile.BusinessName,
		user.Profile.BusinessType,
		user.Profile.TaxID,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return auth.NewConflictError(user.Email)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", user.Email).
			Wrap(err)
	}
	return nil
}

// FindByID retrieves a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_FIND_FAILED").
			With("operation", "find user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// FindByEmail retrieves a user by email. The column collates NOCASE.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_FIND_FAILED").
			With("operation", "find user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// Update persists profile attributes and UpdatedAt.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			first_name = ?,
			last_name = ?,
			phone = ?,
			business_name = ?,
			business_type = ?,
			updated_at = ?
		WHERE id = ?
	`,
		user.Profile.FirstName,
		user.Profile.LastName,
		user.Profile.Phone,
		user.Profile.BusinessName,
		user.Profile.BusinessType,
		formatTime(user.UpdatedAt),
		user.ID.String(),
	)
	return affectedOne(result, err, "USER_UPDATE_FAILED", "update profile", user.ID)
}

// UpdatePassword replaces only the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, formatTime(at), id.String())
	return affectedOne(result, err, "USER_UPDATE_PASSWORD_FAILED", "update password", id)
}

// MarkEmailVerified sets the verification flag.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_verified = 1, updated_at = ? WHERE id = ?`,
		formatTime(at), id.String())
	return affectedOne(result, err, "USER_VERIFY_FAILED", "mark email verified", id)
}

func affectedOne(result sql.Result, err error, code, operation string, id ulid.ULID) error {
	if err != nil {
		return oops.Code(code).With("operation", operation).With("id", id.String()).Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code(code).With("operation", "rows affected").With("id", id.String()).Wrap(err)
	}
	if n == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single row. sql.ErrNoRows is returned unwrapped.
func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		idStr, role          string
		verified             int
		createdAt, updatedAt string
		u                    auth.User
	)
	err := row.Scan(
		&idStr,
		&u.Email,
		&u.PasswordHash,
		&role,
		&verified,
		&u.Profile.FirstName,
		&u.Profile.LastName,
		&u.Profile.Phone,
		&u.Profile.BusinessName,
		&u.Profile.BusinessType,
		&u.Profile.TaxID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers add context
		}
		return nil, oops.Code("USER_SCAN_FAILED").Wrap(err)
	}

	if u.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	u.Role = auth.Role(role)
	u.EmailVerified = verified != 0
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
