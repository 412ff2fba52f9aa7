// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

import (
	"context"
	"strings"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/audit"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/events"
)

// UpdateProfile applies the allow-listed fields of update to userID's
// profile. The active session must belong to userID. An update that
// changes nothing returns the current record without writing.
func (m *Manager) UpdateProfile(ctx context.Context, userID string, update auth.ProfileUpdate) (*auth.PublicUser, error) {
	pub, err := m.updateProfile(ctx, userID, update)
	m.metrics.ObserveOperation(OpUpdateProfile, err)
	if err != nil {
		m.fail(ctx, events.ProfileUpdateFailed, events.Payload{UserID: userID}, err)
		return nil, err
	}
	return pub, nil
}

func (m *Manager) updateProfile(ctx context.Context, userID string, update auth.ProfileUpdate) (*auth.PublicUser, error) {
	cur, ok := m.Current()
	if !ok || cur.User.ID != userID {
		return nil, auth.NewUnauthorizedError("profile can only be updated by its owner")
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}

	id, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}
	user, err := m.users.FindByID(ctx, id)
	if err != nil {
		return nil, oops.Code("SESSION_PROFILE_FAILED").With("operation", "find user").Wrap(err)
	}

	changed := update.Apply(&user.Profile)
	if len(changed) == 0 {
		pub := user.Public()
		return &pub, nil
	}
	user.UpdatedAt = m.clock.Now()
	if err := m.users.Update(ctx, user); err != nil {
		return nil, oops.Code("SESSION_PROFILE_FAILED").With("operation", "update user").Wrap(err)
	}

	pub := user.Public()
	m.mu.Lock()
	if m.current != nil && m.current.User.ID == userID {
		next := *m.current
		next.User = pub
		m.current = &next
	}
	m.mu.Unlock()

	m.events.Publish(ctx, events.ProfileUpdated, events.Payload{UserID: userID, Email: user.Email})
	m.record(ctx, userID, audit.ActionProfileUpdate, map[string]string{audit.MetaFields: strings.Join(changed, ",")})
	return &pub, nil
}
