// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/events"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// RequestPasswordReset issues a reset token when email belongs to an
// account. Unknown emails succeed silently so callers cannot probe for
// accounts.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	err := m.requestPasswordReset(ctx, email)
	m.metrics.ObserveOperation(OpPasswordResetRequest, err)
	if err != nil {
		m.fail(ctx, events.PasswordResetRequestFailed, events.Payload{Email: auth.NormalizeEmail(email)}, err)
	}
	return err
}

func (m *Manager) requestPasswordReset(ctx context.Context, email string) error {
	if err := auth.ValidateEmail(email); err != nil {
		return err
	}
	email = auth.NormalizeEmail(email)

	user, err := m.users.FindByEmail(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		m.log.DebugContext(ctx, "password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return oops.Code("SESSION_RESET_REQUEST_FAILED").With("operation", "find by email").Wrap(err)
	}

	if err := m.issueOneTime(ctx, auth.OneTimePasswordReset, user, m.resetTTL); err != nil {
		return err
	}
	m.events.Publish(ctx, events.PasswordResetRequested, events.Payload{UserID: user.ID.String(), Email: user.Email})
	m.record(ctx, user.ID.String(), audit.ActionFormSubmission, map[string]string{audit.MetaForm: audit.FormResetRequest})
	return nil
}

// ResetPassword replaces the password of the account that owns token. The
// new password is validated before the token is consumed.
func (m *Manager) ResetPassword(ctx context.Context, token, password, confirm string) error {
	user, err := m.resetPassword(ctx, token, password, confirm)
	m.metrics.ObserveOperation(OpPasswordReset, err)
	if err != nil {
		var p events.Payload
		if user != nil {
			p = events.Payload{UserID: user.ID.String(), Email: user.Email}
		}
		m.fail(ctx, events.PasswordResetFailed, p, err)
	}
	return err
}

func (m *Manager) resetPassword(ctx context.Context, token, password, confirm string) (*auth.User, error) {
	if err := auth.ValidateNewPassword(password, confirm); err != nil {
		return nil, err
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("SESSION_RESET_FAILED").With("operation", "hash password").Wrap(err)
	}

	rec, err := m.consume(ctx, auth.OneTimePasswordReset, token)
	if err != nil {
		return nil, err
	}

	user, err := m.users.FindByID(ctx, rec.UserID)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.NewInvalidTokenError("account no longer exists")
	}
	if err != nil {
		m.reinstate(ctx, rec)
		return nil, oops.Code("SESSION_RESET_FAILED").With("operation", "find user").Wrap(err)
	}
	if err := m.users.UpdatePassword(ctx, user.ID, hash, m.clock.Now()); err != nil {
		m.reinstate(ctx, rec)
		return user, oops.Code("SESSION_RESET_FAILED").With("operation", "update password").Wrap(err)
	}
	m.limiter.Reset(user.Email)

	m.events.Publish(ctx, events.PasswordResetCompleted, events.Payload{UserID: user.ID.String(), Email: user.Email})
	m.record(ctx, user.ID.String(), audit.ActionFormSubmission, map[string]string{audit.MetaForm: audit.FormResetComplete})
	return user, nil
}

// VerifyEmail marks userID's email verified when token matches. Every
// failure returns false without detail.
func (m *Manager) VerifyEmail(ctx context.Context, userID, token string) bool {
	user, err := m.verifyEmail(ctx, userID, token)
	m.metrics.ObserveOperation(OpVerifyEmail, err)
	if err != nil {
		m.log.DebugContext(ctx, "email verification rejected", "user_id", userID, "error", err)
		m.events.Publish(ctx, events.EmailVerifyFailed, events.Payload{UserID: userID, Error: "verification failed"})
		return false
	}

	m.mu.Lock()
	if m.current != nil && m.current.User.ID == user.ID.String() {
		next := *m.current
		next.User.EmailVerified = true
		next.User.UpdatedAt = user.UpdatedAt
		m.current = &next
	}
	m.mu.Unlock()

	m.events.Publish(ctx, events.EmailVerified, events.Payload{UserID: user.ID.String(), Email: user.Email})
	m.record(ctx, user.ID.String(), audit.ActionEmailVerification, nil)
	return true
}

func (m *Manager) verifyEmail(ctx context.Context, userID, token string) (*auth.User, error) {
	id, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}
	rec, err := m.consume(ctx, auth.OneTimeEmailVerification, token)
	if err != nil {
		return nil, err
	}
	if rec.UserID != id {
		return nil, auth.NewInvalidTokenError("token belongs to another user")
	}

	now := m.clock.Now()
	if err := m.users.MarkEmailVerified(ctx, id, now); err != nil {
		return nil, oops.Code("SESSION_VERIFY_FAILED").With("operation", "mark verified").Wrap(err)
	}
	user, err := m.users.FindByID(ctx, id)
	if err != nil {
		return nil, oops.Code("SESSION_VERIFY_FAILED").With("operation", "find user").Wrap(err)
	}
	return user, nil
}

// ResendVerification issues a fresh verification token for the active,
// unverified user. The previous token stops working.
func (m *Manager) ResendVerification(ctx context.Context) error {
	err := m.resendVerification(ctx)
	m.metrics.ObserveOperation(OpResendVerification, err)
	if err != nil {
		var p events.Payload
		if cur, ok := m.Current(); ok {
			p = events.Payload{UserID: cur.User.ID, Email: cur.User.Email}
		}
		m.fail(ctx, events.EmailVerifyFailed, p, err)
	}
	return err
}

func (m *Manager) resendVerification(ctx context.Context) error {
	cur, ok := m.Current()
	if !ok {
		return auth.NewUnauthorizedError("no active session")
	}
	id, err := parseUserID(cur.User.ID)
	if err != nil {
		return err
	}
	user, err := m.users.FindByID(ctx, id)
	if err != nil {
		return oops.Code("SESSION_VERIFY_FAILED").With("operation", "find user").Wrap(err)
	}
	if user.EmailVerified {
		return auth.NewValidationError("email: already verified")
	}
	return m.issueVerification(ctx, user)
}

func (m *Manager) issueVerification(ctx context.Context, user *auth.User) error {
	if err := m.issueOneTime(ctx, auth.OneTimeEmailVerification, user, m.verifyTTL); err != nil {
		return err
	}
	m.events.Publish(ctx, events.EmailVerificationRequested, events.Payload{UserID: user.ID.String(), Email: user.Email})
	return nil
}

// issueOneTime stores a fresh token of kind for user and delivers it.
func (m *Manager) issueOneTime(ctx context.Context, kind auth.OneTimeKind, user *auth.User, ttl time.Duration) error {
	plain, hash, err := auth.GenerateOneTimeToken()
	if err != nil {
		return err
	}
	now := m.clock.Now()
	rec, err := auth.NewOneTimeToken(kind, user.ID, hash, now.Add(ttl), now)
	if err != nil {
		return err
	}
	if err := m.tokens.Save(ctx, rec); err != nil {
		return oops.Code("SESSION_TOKEN_SAVE_FAILED").
			With("kind", string(kind)).
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	msg := Message{
		Kind:      kind,
		UserID:    user.ID.String(),
		Email:     user.Email,
		Token:     plain,
		ExpiresAt: rec.ExpiresAt,
	}
	if err := m.delivery.Deliver(ctx, msg); err != nil {
		errutil.LogWarn(m.log, "one-time token delivery failed", err)
	}
	return nil
}

// consume redeems a single-use token. Unknown, used and expired tokens
// are all InvalidToken.
func (m *Manager) consume(ctx context.Context, kind auth.OneTimeKind, token string) (*auth.OneTimeToken, error) {
	if token == "" {
		return nil, auth.NewInvalidTokenError("token is empty")
	}
	rec, err := m.tokens.Consume(ctx, kind, auth.HashOneTimeToken(token))
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.NewInvalidTokenError("unknown or already used")
	}
	if err != nil {
		return nil, oops.Code("SESSION_TOKEN_CONSUME_FAILED").With("kind", string(kind)).Wrap(err)
	}
	if rec.IsExpiredAt(m.clock.Now()) {
		return nil, auth.NewInvalidTokenError("expired")
	}
	return rec, nil
}

// reinstate puts a consumed token back after an infrastructure failure so
// the holder can retry with it.
func (m *Manager) reinstate(ctx context.Context, rec *auth.OneTimeToken) {
	if err := m.tokens.Save(ctx, rec); err != nil {
		m.log.WarnContext(ctx, "consumed token not reinstated",
			"kind", string(rec.Kind), "user_id", rec.UserID.String(), "error", err)
	}
}

// PurgeExpiredTokens deletes single-use tokens that have expired.
func (m *Manager) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := m.tokens.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}
