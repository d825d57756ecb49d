package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuditEntry is one row of the structured audit log: every apply,
// push, pull, and conflict resolution the engine performs, in the
// same audit-trail shape the management API's middleware chain
// already produces for HTTP requests.
type AuditEntry struct {
	ID          string    `db:"id"`
	Action      string    `db:"action"`
	ContentType string    `db:"content_type"`
	ContentID   string    `db:"content_id"`
	Actor       string    `db:"actor"`
	Details     JSONMap   `db:"details"`
	CreatedAt   time.Time `db:"created_at"`
}

// AuditRepository persists AuditEntry rows.
type AuditRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Record appends an audit entry. Failures are logged but never
// returned to the caller: audit logging must never block or fail a
// sync operation.
func (r *AuditRepository) Record(ctx context.Context, action, contentType, contentID, actor string, details JSONMap) {
	entry := &AuditEntry{
		ID:          uuid.NewString(),
		Action:      action,
		ContentType: contentType,
		ContentID:   contentID,
		Actor:       actor,
		Details:     details,
		CreatedAt:   now(),
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_entry (id, action, content_type, content_id, actor, details, created_at)
		VALUES (:id, :action, :content_type, :content_id, :actor, :details, :created_at)`, entry)
	if err != nil {
		r.logger.Error("store: record audit entry failed", "action", action, "error", err)
	}
}

// List returns audit entries, newest first, optionally filtered by
// content type for the management API.
func (r *AuditRepository) List(ctx context.Context, contentType string, limit, offset int) ([]AuditEntry, error) {
	var rows []AuditEntry
	var err error
	if contentType == "" {
		err = r.db.SelectContext(ctx, &rows, `SELECT * FROM audit_entry ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &rows, `SELECT * FROM audit_entry WHERE content_type = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, contentType, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list audit entries: %w", err)
	}
	return rows, nil
}
