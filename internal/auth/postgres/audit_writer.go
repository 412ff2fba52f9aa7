// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/audit"
)

// AuditWriter stores audit entries in the audit_log table.
type AuditWriter struct {
	db DBTX
}

// NewAuditWriter creates a new AuditWriter.
func NewAuditWriter(db DBTX) *AuditWriter {
	return &AuditWriter{db: db}
}

// Write inserts entry. Duplicate IDs are ignored so WAL replay is idempotent.
func (w *AuditWriter) Write(ctx context.Context, entry audit.Entry) error {
	meta := entry.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").
			With("operation", "marshal metadata").
			Wrap(err)
	}

	_, err = w.db.Exec(ctx, `
		INSERT INTO audit_log (id, user_id, action, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID.String(), entry.UserID, string(entry.Action), metaJSON, entry.Timestamp)
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").
			With("operation", "insert audit_log").
			With("action", string(entry.Action)).
			Wrap(err)
	}
	return nil
}

// ListByUser returns up to limit entries for userID, newest first.
func (w *AuditWriter) ListByUser(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	rows, err := w.db.Query(ctx, `
		SELECT id, action, metadata, created_at FROM audit_log
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, oops.Code("AUDIT_LIST_FAILED").
			With("operation", "select audit_log").
			With("user_id", userID).
			Wrap(err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			idStr, action string
			metaJSON      []byte
			at            time.Time
		)
		if err := rows.Scan(&idStr, &action, &metaJSON, &at); err != nil {
			return nil, oops.Code("AUDIT_LIST_FAILED").With("operation", "scan audit_log").Wrap(err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, oops.Code("AUDIT_INVALID_ID").With("id", idStr).Wrap(err)
		}
		var meta map[string]string
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, oops.Code("AUDIT_LIST_FAILED").With("operation", "unmarshal metadata").Wrap(err)
		}
		if len(meta) == 0 {
			meta = nil
		}
		entries = append(entries, audit.Entry{
			ID:        id,
			UserID:    userID,
			Action:    audit.Action(action),
			Metadata:  meta,
			Timestamp: at.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_LIST_FAILED").With("operation", "iterate audit_log").Wrap(err)
	}
	return entries, nil
}

// Close is a no-op; the pool belongs to the caller.
func (w *AuditWriter) Close() error {
	return nil
}

var _ audit.Writer = (*AuditWriter)(nil)
