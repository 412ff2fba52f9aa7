// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package session implements the session manager: the orchestrator that
// registers and authenticates users, owns the single active session of the
// process, and keeps its access token fresh.
package session

import (
	"time"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// State is the lifecycle state of the manager's session.
type State int

// Session states.
const (
	Unauthenticated State = iota
	Authenticated
	Refreshing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// Session is the active identity context: the sanitized user plus the
// credentials issued for it.
type Session struct {
	User         auth.PublicUser `json:"user"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Result is returned by operations that establish a session.
type Result struct {
	User   auth.PublicUser `json:"user"`
	Tokens auth.TokenPair  `json:"tokens"`
}

// LoginInput is the payload of a login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}
