// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the closed set of account roles.
type Role string

// Account roles.
const (
	RoleIndividual Role = "individual"
	RoleBusiness   Role = "business"
	RoleAdmin      Role = "admin"
)

// DefaultRole is assigned when registration does not name one.
const DefaultRole = RoleIndividual

// ParseRole validates a role name. An empty name yields DefaultRole.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return DefaultRole, nil
	case RoleIndividual, RoleBusiness, RoleAdmin:
		return r, nil
	default:
		return "", NewValidationError("role must be one of individual, business, admin")
	}
}

// Profile holds the optional, user-editable attributes of an account.
// TaxID is set at registration only.
type Profile struct {
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
	BusinessType string `json:"business_type,omitempty"`
	TaxID        string `json:"tax_id,omitempty"`
}

// User is the persisted account record. PasswordHash never leaves this
// package boundary in sanitized form; use Public for anything caller-facing.
type User struct {
	ID            ulid.ULID
	Email         string
	PasswordHash  string
	Role          Role
	EmailVerified bool
	Profile       Profile
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PublicUser is a User with the password hash stripped.
type PublicUser struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Role          Role      `json:"role"`
	EmailVerified bool      `json:"verified"`
	Profile       Profile   `json:"profile"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewUser creates a validated, unverified User.
func NewUser(email, passwordHash string, role Role, profile Profile, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if role == "" {
		role = DefaultRole
	}
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Profile:      profile,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Public returns the sanitized view of the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID.String(),
		Email:         u.Email,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		Profile:       u.Profile,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// NormalizeEmail lower-cases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserRepository manages user persistence. Every write is atomic per record,
// and each targeted update touches only its own columns so that concurrent
// flows on the same user (profile edit and password reset) cannot clobber
// each other.
type UserRepository interface {
	// Create stores a new user. Returns a KindConflict error if the email
	// is already registered (case-insensitive).
	Create(ctx context.Context, user *User) error

	// FindByID retrieves a user by ID. Returns ErrNotFound if absent.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// FindByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if absent.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// Update persists the profile attributes and UpdatedAt. Email, role,
	// verification flag and password hash are left untouched.
	Update(ctx context.Context, user *User) error

	// UpdatePassword replaces only the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error

	// MarkEmailVerified sets the verification flag.
	MarkEmailVerified(ctx context.Context, id ulid.ULID, at time.Time) error
}
