// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package audit records successful state-changing account operations.
//
// The session manager reports each operation to a Sink. A Sink must never
// fail the operation it records: implementations either succeed, queue, or
// fall back to a local write-ahead log.
package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Action is the kind of operation being audited.
type Action string

// Audited actions.
const (
	ActionSignup            Action = "signup"
	ActionLogin             Action = "login"
	ActionLogout            Action = "logout"
	ActionProfileUpdate     Action = "profile_update"
	ActionFormSubmission    Action = "form_submission"
	ActionEmailVerification Action = "email_verification"
)

// Metadata keys used by the session manager.
const (
	MetaForm          = "form"
	MetaRemember      = "remember"
	MetaFields        = "fields"
	FormResetRequest  = "password_reset_request"
	FormResetComplete = "password_reset"
)

// Entry is one audited action.
type Entry struct {
	ID        ulid.ULID         `json:"id"`
	UserID    string            `json:"user_id"`
	Action    Action            `json:"action"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewEntry builds an Entry with a fresh ID. The metadata map is copied.
func NewEntry(userID string, action Action, metadata map[string]string, at time.Time) Entry {
	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	return Entry{
		ID:        ulid.Make(),
		UserID:    userID,
		Action:    action,
		Metadata:  meta,
		Timestamp: at,
	}
}

// Sink receives audit records.
type Sink interface {
	LogAction(ctx context.Context, userID string, action Action, metadata map[string]string) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, userID string, action Action, metadata map[string]string) error

// LogAction calls f.
func (f SinkFunc) LogAction(ctx context.Context, userID string, action Action, metadata map[string]string) error {
	return f(ctx, userID, action, metadata)
}

type nopSink struct{}

func (nopSink) LogAction(context.Context, string, Action, map[string]string) error { return nil }

// Nop returns a Sink that discards everything.
func Nop() Sink {
	return nopSink{}
}

// Writer persists audit entries to a backend.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
	Close() error
}
