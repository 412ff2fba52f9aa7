// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"sync"
	"time"
)

// Rate limiting configuration.
const (
	// LockoutDuration is the window after the last attempt during which an
	// identity over the threshold stays locked.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of attempts that triggers a lockout.
	LockoutThreshold = 5
)

// attemptCounter is the per-identity state.
type attemptCounter struct {
	count       int
	lastAttempt time.Time
}

// RateLimiter tracks failed authentication attempts per identity. Counters
// expire lazily: a counter whose window has elapsed is reset on the next
// access instead of by a background sweep. It is safe for concurrent use.
type RateLimiter struct {
	mu        sync.Mutex
	attempts  map[string]*attemptCounter
	threshold int
	window    time.Duration
	clock     Clock
}

// NewRateLimiter creates a RateLimiter. Non-positive threshold or window
// fall back to LockoutThreshold and LockoutDuration.
func NewRateLimiter(threshold int, window time.Duration, clock Clock) *RateLimiter {
	if threshold <= 0 {
		threshold = LockoutThreshold
	}
	if window <= 0 {
		window = LockoutDuration
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &RateLimiter{
		attempts:  make(map[string]*attemptCounter),
		threshold: threshold,
		window:    window,
		clock:     clock,
	}
}

// RecordAttempt increments the counter for identity and stamps the time.
func (r *RateLimiter) RecordAttempt(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(identity, r.clock.Now())
}

// IsLockedOut reports whether identity has reached the threshold within the
// window. An elapsed window resets the counter.
func (r *RateLimiter) IsLockedOut(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	locked, _ := r.lockedLocked(identity, r.clock.Now())
	return locked
}

// Attempt records an attempt and then checks for lockout as one critical
// section, so parallel attempts cannot each observe a sub-threshold count.
// remaining is the time until the lockout lifts when locked.
func (r *RateLimiter) Attempt(identity string) (locked bool, remaining time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.recordLocked(identity, now)
	return r.lockedLocked(identity, now)
}

// Reset clears the counter for identity.
func (r *RateLimiter) Reset(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, identity)
}

// Count returns the live attempt count for identity.
func (r *RateLimiter) Count(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.liveLocked(identity, r.clock.Now())
	if c == nil {
		return 0
	}
	return c.count
}

// Window returns the lockout window.
func (r *RateLimiter) Window() time.Duration {
	return r.window
}

func (r *RateLimiter) recordLocked(identity string, now time.Time) {
	c := r.liveLocked(identity, now)
	if c == nil {
		c = &attemptCounter{}
		r.attempts[identity] = c
	}
	c.count++
	c.lastAttempt = now
}

func (r *RateLimiter) lockedLocked(identity string, now time.Time) (bool, time.Duration) {
	c := r.liveLocked(identity, now)
	if c == nil || c.count < r.threshold {
		return false, 0
	}
	return true, r.window - now.Sub(c.lastAttempt)
}

// liveLocked returns the counter for identity, dropping it if its window
// has elapsed.
func (r *RateLimiter) liveLocked(identity string, now time.Time) *attemptCounter {
	c, ok := r.attempts[identity]
	if !ok {
		return nil
	}
	if now.Sub(c.lastAttempt) >= r.window {
		delete(r.attempts, identity)
		return nil
	}
	return c
}
