// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package events defines the account lifecycle events and a best-effort
// publish/subscribe notifier for them.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Name identifies an event. Names are dot-separated so subscriptions can
// use glob patterns such as "user.*" or "**.failed".
type Name string

// Lifecycle events.
const (
	UserRegistered             Name = "user.registered"
	UserLoggedIn               Name = "user.loggedin"
	UserLoggedOut              Name = "user.loggedout"
	TokenRefreshed             Name = "auth.token.refreshed"
	PasswordResetRequested     Name = "user.password.reset.requested"
	PasswordResetCompleted     Name = "user.password.reset.completed"
	EmailVerified              Name = "user.email.verified"
	EmailVerificationRequested Name = "user.email.verification.requested"
	ProfileUpdated             Name = "user.profile.updated"
)

// Failure events. Their payload carries Error.
const (
	RegisterFailed             Name = "user.register.failed"
	LoginFailed                Name = "user.login.failed"
	TokenRefreshFailed         Name = "auth.token.refresh.failed"
	PasswordResetRequestFailed Name = "user.password.reset.request.failed"
	PasswordResetFailed        Name = "user.password.reset.failed"
	EmailVerifyFailed          Name = "user.email.verify.failed"
	ProfileUpdateFailed        Name = "user.profile.update.failed"
)

const failedSuffix = ".failed"

// IsFailure reports whether n is a failure variant.
func (n Name) IsFailure() bool {
	return strings.HasSuffix(string(n), failedSuffix)
}

// String returns the event name.
func (n Name) String() string {
	return string(n)
}

// Payload is the body of every event. Fields not relevant to an event are empty.
type Payload struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Event is a published notification.
type Event struct {
	ID      ulid.ULID `json:"id"`
	Name    Name      `json:"name"`
	Payload Payload   `json:"payload"`
	At      time.Time `json:"at"`
}

// Publisher publishes events. Publishing never blocks on subscribers and
// never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, name Name, payload Payload)
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(ctx context.Context, name Name, payload Payload)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, name Name, payload Payload) {
	f(ctx, name, payload)
}
