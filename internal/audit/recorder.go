// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package audit

import (
	"context"
	"sync"
	"time"
)

// Recorder is an in-memory Sink and Writer that keeps every entry.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// LogAction records the action.
func (r *Recorder) LogAction(_ context.Context, userID string, action Action, metadata map[string]string) error {
	return r.Write(context.Background(), NewEntry(userID, action, metadata, time.Now().UTC()))
}

// Write records the entry, or returns the error set by FailWith.
func (r *Recorder) Write(_ context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

// FailWith makes subsequent writes fail with err. A nil err clears it.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Entries returns a copy of everything recorded.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Actions returns the recorded actions in order.
func (r *Recorder) Actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Action, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

var (
	_ Sink   = (*Recorder)(nil)
	_ Writer = (*Recorder)(nil)
)
