// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package authtest provides test helpers for the auth package and its consumers.
package authtest

import (
	"sync"
	"time"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// SigningKey is a fixed 32-byte HMAC key for tests.
var SigningKey = []byte("gatehouse-test-signing-key-32byt")

// FakeClock is a manually advanced auth.Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a FakeClock at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now implements auth.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// FastHasher returns an argon2id hasher with minimal work factors so tests
// stay quick. Never use these parameters outside tests.
func FastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasher(auth.Argon2Params{
		Memory:     64,
		Iterations: 1,
		Threads:    1,
	})
}

// TokenIssuer returns an issuer with default lifetimes driven by clock.
func TokenIssuer(clock auth.Clock) *auth.TokenIssuer {
	ti, err := auth.NewTokenIssuer(auth.TokenConfig{SigningKey: SigningKey, Issuer: "gatehouse-test"}, clock)
	if err != nil {
		panic(err)
	}
	return ti
}
