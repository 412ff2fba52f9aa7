// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package sqlite

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/audit"
)

// AuditWriter stores audit entries in the audit_log table.
type AuditWriter struct {
	db DBTX
}

// NewAuditWriter creates an AuditWriter.
func NewAuditWriter(db DBTX) *AuditWriter {
	return &AuditWriter{db: db}
}

// Write inserts entry. Writing an entry twice is a no-op, which keeps WAL
// replay idempotent.
func (w *AuditWriter) Write(ctx context.Context, entry audit.Entry) error {
	meta, err := json.Marshal(metadataOrEmpty(entry.Metadata))
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").With("operation", "marshal metadata").Wrap(err)
	}
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, action, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID.String(), entry.UserID, string(entry.Action), string(meta), formatTime(entry.Timestamp))
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").
			With("operation", "insert entry").
			With("action", string(entry.Action)).
			Wrap(err)
	}
	return nil
}

// ListByUser returns up to limit entries for userID, newest first.
func (w *AuditWriter) ListByUser(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, action, metadata, created_at FROM audit_log
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, oops.Code("AUDIT_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var idStr, action, meta, at string
		if err := rows.Scan(&idStr, &action, &meta, &at); err != nil {
			return nil, oops.Code("AUDIT_LIST_FAILED").With("operation", "scan").Wrap(err)
		}
		e := audit.Entry{UserID: userID, Action: audit.Action(action)}
		if e.ID, err = ulid.Parse(idStr); err != nil {
			return nil, oops.Code("AUDIT_INVALID_ID").With("id", idStr).Wrap(err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, oops.Code("AUDIT_LIST_FAILED").With("operation", "unmarshal metadata").Wrap(err)
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
		if e.Timestamp, err = parseTime(at); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_LIST_FAILED").With("operation", "iterate").Wrap(err)
	}
	return entries, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (w *AuditWriter) Close() error {
	return nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ audit.Writer = (*AuditWriter)(nil)
