// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package audit

import (
	"context"
	"log/slog"
)

// SlogWriter writes entries as structured log records. It is the backend
// for deployments without a database audit table.
type SlogWriter struct {
	log *slog.Logger
}

// NewSlogWriter creates a SlogWriter that logs under the "audit" group.
func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	return &SlogWriter{log: logger.With("component", "audit")}
}

// Write logs the entry at Info.
func (w *SlogWriter) Write(ctx context.Context, entry Entry) error {
	attrs := []any{
		"audit_id", entry.ID.String(),
		"user_id", entry.UserID,
		"action", string(entry.Action),
		"at", entry.Timestamp,
	}
	if len(entry.Metadata) > 0 {
		meta := make([]any, 0, len(entry.Metadata)*2)
		for k, v := range entry.Metadata {
			meta = append(meta, k, v)
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}
	w.log.InfoContext(ctx, "audit", attrs...)
	return nil
}

// Close is a no-op.
func (w *SlogWriter) Close() error { return nil }
