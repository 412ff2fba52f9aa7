// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/events"
)

func ptr(s string) *string { return &s }

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	res := h.register("a@x.com")
	h.advance(time.Minute)
	h.drain()

	pub, err := h.mgr.UpdateProfile(h.ctx, res.User.ID, auth.ProfileUpdate{
		FirstName:    ptr("Ada"),
		BusinessName: ptr("Analytical Engines"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", pub.Profile.FirstName)
	assert.Equal(t, "Analytical Engines", pub.Profile.BusinessName)
	assert.Equal(t, h.clock.Now(), pub.UpdatedAt)

	cur, ok := h.mgr.Current()
	require.True(t, ok)
	assert.Equal(t, "Ada", cur.User.Profile.FirstName)

	stored, err := h.users.FindByEmail(h.ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Analytical Engines", stored.Profile.BusinessName)

	assert.Equal(t, []events.Name{events.ProfileUpdated}, h.names())

	entries := h.audit.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ActionProfileUpdate, last.Action)
	assert.Equal(t, "first_name,business_name", last.Metadata[audit.MetaFields])
}

func TestUpdateProfile_UnchangedValuesWriteNothing(t *testing.T) {
	h := newHarness(t)
	res := h.register("a@x.com")
	_, err := h.mgr.UpdateProfile(h.ctx, res.User.ID, auth.ProfileUpdate{LastName: ptr("Lovelace")})
	require.NoError(t, err)
	h.drain()
	before := len(h.audit.Entries())

	pub, err := h.mgr.UpdateProfile(h.ctx, res.User.ID, auth.ProfileUpdate{LastName: ptr(" Lovelace ")})
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", pub.Profile.LastName)
	assert.Empty(t, h.drain())
	assert.Len(t, h.audit.Entries(), before)
}

func TestUpdateProfile_RequiresOwner(t *testing.T) {
	h := newHarness(t)
	a := h.register("a@x.com")
	h.register("b@x.com")
	h.drain()

	_, err := h.mgr.UpdateProfile(h.ctx, a.User.ID, auth.ProfileUpdate{FirstName: ptr("Mallory")})
	assert.True(t, auth.IsKind(err, auth.KindUnauthorized))

	names := h.names()
	assert.Zero(t, count(names, events.ProfileUpdated))
	assert.Equal(t, 1, count(names, events.ProfileUpdateFailed))

	stored, err := h.users.FindByEmail(h.ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, stored.Profile.FirstName)
}

func TestUpdateProfile_WithoutSession(t *testing.T) {
	h := newHarness(t)
	a := h.register("a@x.com")
	h.mgr.Logout(h.ctx)

	_, err := h.mgr.UpdateProfile(h.ctx, a.User.ID, auth.ProfileUpdate{FirstName: ptr("Ada")})
	assert.True(t, auth.IsKind(err, auth.KindUnauthorized))
}

func TestUpdateProfile_EmptyUpdate(t *testing.T) {
	h := newHarness(t)
	a := h.register("a@x.com")

	_, err := h.mgr.UpdateProfile(h.ctx, a.User.ID, auth.ProfileUpdate{})
	assert.True(t, auth.IsKind(err, auth.KindValidation))
}

func TestUpdateProfile_ParsedInputRejectsProtectedFields(t *testing.T) {
	_, err := auth.ParseProfileUpdate(map[string]string{"role": "admin", "first_name": "Ada"})
	assert.True(t, auth.IsKind(err, auth.KindValidation))
}
