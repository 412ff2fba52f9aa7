// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"errors"
	"strings"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrorKind classifies the failures callers are expected to react to.
type ErrorKind string

// Error kinds surfaced by the session manager. The string value is the oops code.
const (
	KindValidation         ErrorKind = "AUTH_VALIDATION_FAILED"
	KindConflict           ErrorKind = "AUTH_EMAIL_CONFLICT"
	KindInvalidCredentials ErrorKind = "AUTH_INVALID_CREDENTIALS"
	KindRateLimited        ErrorKind = "AUTH_RATE_LIMITED"
	KindInvalidToken       ErrorKind = "AUTH_INVALID_TOKEN"
	KindUnauthorized       ErrorKind = "AUTH_UNAUTHORIZED"
)

// String returns the oops code of the kind.
func (k ErrorKind) String() string {
	return string(k)
}

// ErrorKindOf returns the kind carried by err, or "" if err is not one of
// the classified failures (for example a storage outage).
func ErrorKindOf(err error) ErrorKind {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, ok := oopsErr.Code().(string)
	if !ok {
		return ""
	}
	switch kind := ErrorKind(code); kind {
	case KindValidation, KindConflict, KindInvalidCredentials,
		KindRateLimited, KindInvalidToken, KindUnauthorized:
		return kind
	default:
		return ""
	}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && ErrorKindOf(err) == kind
}

// NewValidationError builds a ValidationError listing every violated rule.
func NewValidationError(violations ...string) error {
	return oops.Code(string(KindValidation)).
		With("violations", violations).
		Errorf("validation failed: %s", strings.Join(violations, "; "))
}

// NewConflictError reports that the email is already registered.
func NewConflictError(email string) error {
	return oops.Code(string(KindConflict)).
		With("email", email).
		Errorf("an account with this email already exists")
}

// NewInvalidCredentialsError is deliberately identical for unknown accounts
// and wrong passwords.
func NewInvalidCredentialsError() error {
	return oops.Code(string(KindInvalidCredentials)).Errorf("invalid email or password")
}

// NewRateLimitedError reports a lockout and how long until it lifts.
func NewRateLimitedError(retryAfter string) error {
	return oops.Code(string(KindRateLimited)).
		With("retry_after", retryAfter).
		Errorf("too many failed login attempts, try again later")
}

// NewInvalidTokenError reports an unknown, consumed, or expired token.
func NewInvalidTokenError(reason string) error {
	return oops.Code(string(KindInvalidToken)).
		With("reason", reason).
		Errorf("token is invalid or has expired")
}

// NewUnauthorizedError reports an actor/resource mismatch.
func NewUnauthorizedError(msg string) error {
	return oops.Code(string(KindUnauthorized)).Errorf("%s", msg)
}
