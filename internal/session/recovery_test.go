// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/events"
	"github.com/gatehouse/gatehouse/internal/session"
)

func parseID(s string) (ulid.ULID, error) {
	return ulid.Parse(s)
}

func TestRequestPasswordReset_UnknownEmailSucceedsSilently(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.mgr.RequestPasswordReset(h.ctx, "nobody@x.com"))
	assert.Equal(t, 0, h.outbox.count())
	assert.Empty(t, h.drain())
	assert.Equal(t, 0, h.tokens.Len())
}

func TestRequestPasswordReset_MalformedEmail(t *testing.T) {
	h := newHarness(t)

	err := h.mgr.RequestPasswordReset(h.ctx, "not an email")
	assert.True(t, auth.IsKind(err, auth.KindValidation))
	assert.Equal(t, []events.Name{events.PasswordResetRequestFailed}, h.names())
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t)
	res := h.register("a@x.com")
	h.mgr.Logout(h.ctx)
	h.drain()

	require.NoError(t, h.mgr.RequestPasswordReset(h.ctx, "A@x.com"))
	msg := h.outbox.last(t, auth.OneTimePasswordReset)
	assert.Equal(t, res.User.ID, msg.UserID)
	assert.Equal(t, h.clock.Now().Add(auth.DefaultResetTokenTTL), msg.ExpiresAt)

	evs := h.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.PasswordResetRequested, evs[0].Name)
	assert.Equal(t, "a@x.com", evs[0].Payload.Email)

	// A bad confirmation leaves the token usable.
	err := h.mgr.ResetPassword(h.ctx, msg.Token, newPassword, "different")
	assert.True(t, auth.IsKind(err, auth.KindValidation))

	require.NoError(t, h.mgr.ResetPassword(h.ctx, msg.Token, newPassword, newPassword))

	err = h.mgr.ResetPassword(h.ctx, msg.Token, newPassword, newPassword)
	assert.True(t, auth.IsKind(err, auth.KindInvalidToken), "second use: %v", err)

	names := h.names()
	assert.Equal(t, 1, count(names, events.PasswordResetCompleted))
	assert.Equal(t, 2, count(names, events.PasswordResetFailed))

	_, err = h.login("a@x.com", goodPassword)
	assert.True(t, auth.IsKind(err, auth.KindInvalidCredentials))
	_, err = h.login("a@x.com", newPassword)
	assert.NoError(t, err)

	var forms []string
	for _, e := range h.audit.Entries() {
		if e.Action == audit.ActionFormSubmission {
			forms = append(forms, e.Metadata[audit.MetaForm])
		}
	}
	assert.Equal(t, []string{audit.FormResetRequest, audit.FormResetComplete}, forms)
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	h := newHarness(t)
	h.register("a@x.com")
	require.NoError(t, h.mgr.RequestPasswordReset(h.ctx, "a@x.com"))
	msg := h.outbox.last(t, auth.OneTimePasswordReset)

	h.advance(auth.DefaultResetTokenTTL)
	err := h.mgr.ResetPassword(h.ctx, msg.Token, newPassword, newPassword)
	assert.True(t, auth.IsKind(err, auth.KindInvalidToken))
}

func TestResetPassword_UnknownToken(t *testing.T) {
	h := newHarness(t)
	err := h.mgr.ResetPassword(h.ctx, "deadbeef", newPassword, newPassword)
	assert.True(t, auth.IsKind(err, auth.KindInvalidToken))

	err = h.mgr.ResetPassword(h.ctx, "", newPassword, newPassword)
	assert.True(t, auth.IsKind(err, auth.KindInvalidToken))
}

func TestResetPassword_ClearsLockout(t *testing.T) {
	h := newHarness(t)
	h.register("a@x.com")
	for range 5 {
		_, _ = h.login("a@x.com", "Wrong123!")
	}
	require.NoError(t, h.mgr.RequestPasswordReset(h.ctx, "a@x.com"))
	msg := h.outbox.last(t, auth.OneTimePasswordReset)
	require.NoError(t, h.mgr.ResetPassword(h.ctx, msg.Token, newPassword, newPassword))

	_, err := h.login("a@x.com", newPassword)
	assert.NoError(t, err)
}

func TestRequestPasswordReset_ReplacesOutstandingToken(t *testing.T) {
	h := newHarness(t)
	h.register("a@x.com")
	require.NoError(t, h.mgr.RequestPasswordReset(h.ctx, "a@x.com"))
	first := h.outbox.last(t, auth.OneTimePasswordReset)
	require.NoError(t, h.mgr.RequestPasswordReset(h.ctx, "a@x.com"))
	second := h.outbox.last(t, auth.OneTimePasswordReset)
	require.NotEqual(t, first.Token, second.Token)

	err := h.mgr.ResetPassword(h.ctx, first.Token, newPassword, newPassword)
	assert.True(t, auth.IsKind(err, auth.KindInvalidToken))
	assert.NoError(t, h.mgr.ResetPassword(h.ctx, second.Token, newPassword, newPassword))
}

func TestVerifyEmail(t *testing.T) {
	h := newHarness(t)
	res := h.register("a@x.com")
	msg := h.outbox.last(t, auth.OneTimeEmailVerification)
	h.drain()

	assert.False(t, h.mgr.VerifyEmail(h.ctx, res.User.ID, "wrong-token"))
	assert.Equal(t, []events.Name{events.EmailVerifyFailed}, h.names())

	assert.True(t, h.mgr.VerifyEmail(h.ctx, res.User.ID, msg.Token))
	evs := h.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.EmailVerified, evs[0].Name)
	assert.Equal(t, "a@x.com", evs[0].Payload.Email)

	cur, ok := h.mgr.Current()
	require.True(t, ok)
	assert.True(t, cur.User.EmailVerified)

	stored, err := h.users.FindByEmail(h.ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)

	assert.False(t, h.mgr.VerifyEmail(h.ctx, res.User.ID, msg.Token), "tokens are single use")
	assert.Contains(t, h.audit.Actions(), audit.ActionEmailVerification)
}

func TestVerifyEmail_FailsClosed(t *testing.T) {
	h := newHarness(t)
	a := h.register("a@x.com")
	aMsg := h.outbox.last(t, auth.OneTimeEmailVerification)
	b := h.register("b@x.com")

	assert.False(t, h.mgr.VerifyEmail(h.ctx, "not-a-ulid", aMsg.Token))
	assert.False(t, h.mgr.VerifyEmail(h.ctx, b.User.ID, aMsg.Token))

	h.register("c@x.com")
	cMsg := h.outbox.last(t, auth.OneTimeEmailVerification)
	h.advance(auth.DefaultVerificationTokenTTL)
	assert.False(t, h.mgr.VerifyEmail(h.ctx, a.User.ID, cMsg.Token))

	stored, err := h.users.FindByEmail(h.ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, stored.EmailVerified)
}

func TestVerifyEmail_OtherUserLeavesSessionAlone(t *testing.T) {
	h := newHarness(t)
	a := h.register("a@x.com")
	aMsg := h.outbox.last(t, auth.OneTimeEmailVerification)
	h.register("b@x.com")

	assert.True(t, h.mgr.VerifyEmail(h.ctx, a.User.ID, aMsg.Token))
	cur, ok := h.mgr.Current()
	require.True(t, ok)
	assert.Equal(t, "b@x.com", cur.User.Email)
	assert.False(t, cur.User.EmailVerified)
}

func TestResendVerification(t *testing.T) {
	h := newHarness(t)

	err := h.mgr.ResendVerification(h.ctx)
	assert.True(t, auth.IsKind(err, auth.KindUnauthorized))

	res := h.register("a@x.com")
	first := h.outbox.last(t, auth.OneTimeEmailVerification)
	h.advance(time.Minute)
	h.drain()

	require.NoError(t, h.mgr.ResendVerification(h.ctx))
	second := h.outbox.last(t, auth.OneTimeEmailVerification)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, []events.Name{events.EmailVerificationRequested}, h.names())

	assert.False(t, h.mgr.VerifyEmail(h.ctx, res.User.ID, first.Token))
	assert.True(t, h.mgr.VerifyEmail(h.ctx, res.User.ID, second.Token))

	err = h.mgr.ResendVerification(h.ctx)
	assert.True(t, auth.IsKind(err, auth.KindValidation))
}

func TestPurgeExpiredTokens(t *testing.T) {
	h := newHarness(t)
	h.register("a@x.com")
	require.NoError(t, h.mgr.RequestPasswordReset(h.ctx, "a@x.com"))
	assert.Equal(t, 2, h.tokens.Len())

	h.advance(auth.DefaultResetTokenTTL)
	n, err := h.mgr.PurgeExpiredTokens(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, h.tokens.Len())
}

var _ session.Delivery = (*outbox)(nil)
