// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth provides the identity primitives of Gatehouse.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates an unverified User with a normalized email
//   - NewOneTimeToken - creates a reset or verification token record
//   - NewPersistedSession - creates a session snapshot for hydration
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Primitives
//
//   - PasswordHasher - salted one-way hashing ("salt:digest"), constant-time verify
//   - TokenIssuer - opaque access/refresh tokens with embedded claims
//   - RateLimiter - per-identity failed-attempt counters with lazy lockout expiry
//
// Failures callers must react to carry an ErrorKind as their oops code; see ErrorKindOf.
package auth
