package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ConflictStatus is the lifecycle state of a logged conflict.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// ConflictKind classifies how a conflict's fields collided, mirroring
// resolver.Kind: a direct conflict is a single field both sides hold
// but disagree on; indirect is two or more such fields; structural is
// a shape change (a field present on only one side, including a
// delete racing an update) rather than a value change.
type ConflictKind string

const (
	ConflictKindDirect     ConflictKind = "direct"
	ConflictKindIndirect   ConflictKind = "indirect"
	ConflictKindStructural ConflictKind = "structural"
)

// ConflictLog is a record of an update that lost an optimistic
// version check and could not be (or was not configured to be)
// auto-merged, surfaced to the management API for a human decision.
type ConflictLog struct {
	ID              string         `db:"id"`
	ContentType     string         `db:"content_type"`
	ContentID       string         `db:"content_id"`
	LocalVersion    uint64         `db:"local_version"`
	IncomingVersion uint64         `db:"incoming_version"`
	LocalPayload    JSONRaw        `db:"local_payload"`
	IncomingPayload JSONRaw        `db:"incoming_payload"`
	IncomingSource  string         `db:"incoming_source"`
	DiffFields      StringArray    `db:"diff_fields"`
	ConflictType    ConflictKind   `db:"conflict_type"`
	MergedData      JSONRaw        `db:"merged_data"`
	Status          ConflictStatus `db:"status"`
	Resolution      *string        `db:"resolution"`
	ResolvedBy      *string        `db:"resolved_by"`
	CreatedAt       time.Time      `db:"created_at"`
	ResolvedAt      *time.Time     `db:"resolved_at"`
}

// ConflictRepository persists ConflictLog rows.
type ConflictRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Create logs an open conflict for (content_type, content_id),
// upserting over any conflict already open for that entity rather
// than stacking a second pending row: a replica resending an
// unresolved edit, or a second independent edit arriving before a
// human resolves the first, refreshes the one pending ConflictLog
// instead of creating a sibling.
func (r *ConflictRepository) Create(ctx context.Context, c *ConflictLog) error {
	c.ID = uuid.NewString()
	c.Status = ConflictOpen
	c.CreatedAt = now()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO conflict_log (id, content_type, content_id, local_version, incoming_version,
		                           local_payload, incoming_payload, incoming_source, diff_fields,
		                           conflict_type, merged_data, status, resolution, resolved_by,
		                           created_at, resolved_at)
		VALUES (:id, :content_type, :content_id, :local_version, :incoming_version,
		        :local_payload, :incoming_payload, :incoming_source, :diff_fields,
		        :conflict_type, :merged_data, :status, :resolution, :resolved_by,
		        :created_at, :resolved_at)
		ON CONFLICT (content_type, content_id) WHERE status = 'open' DO UPDATE SET
			local_version    = EXCLUDED.local_version,
			incoming_version = EXCLUDED.incoming_version,
			local_payload     = EXCLUDED.local_payload,
			incoming_payload  = EXCLUDED.incoming_payload,
			incoming_source   = EXCLUDED.incoming_source,
			diff_fields       = EXCLUDED.diff_fields,
			conflict_type     = EXCLUDED.conflict_type,
			merged_data       = EXCLUDED.merged_data,
			created_at        = EXCLUDED.created_at`, c)
	if err != nil {
		return fmt.Errorf("store: create conflict log: %w", err)
	}
	return nil
}

// ListOpen returns open conflicts, newest first, for the management
// API's /sync/conflicts listing. contentType filters when non-empty.
func (r *ConflictRepository) ListOpen(ctx context.Context, contentType string, limit, offset int) ([]ConflictLog, error) {
	var rows []ConflictLog
	var err error
	if contentType == "" {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM conflict_log WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			ConflictOpen, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &rows, `
			SELECT * FROM conflict_log WHERE status = $1 AND content_type = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			ConflictOpen, contentType, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list open conflicts: %w", err)
	}
	return rows, nil
}

// Get fetches a single conflict by id.
func (r *ConflictRepository) Get(ctx context.Context, id string) (*ConflictLog, error) {
	var c ConflictLog
	err := r.db.GetContext(ctx, &c, `SELECT * FROM conflict_log WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conflict: %w", err)
	}
	return &c, nil
}

// Resolve marks a conflict resolved with the chosen resolution
// ("local", "incoming", "merged", or "manual-edit"), the payload that
// was actually applied, and the actor that resolved it (a username,
// or "auto-merge").
func (r *ConflictRepository) Resolve(ctx context.Context, id, resolution, resolvedBy string, merged JSONRaw) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conflict_log SET status = $2, resolution = $3, resolved_by = $4, resolved_at = $5, merged_data = $7
		WHERE id = $1 AND status = $6`,
		id, ConflictResolved, resolution, resolvedBy, now(), ConflictOpen, merged)
	if err != nil {
		return fmt.Errorf("store: resolve conflict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: resolve conflict: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: conflict %s not found or already resolved", id)
	}
	return nil
}

// CountOpen returns the number of open conflicts, used by /metrics.
func (r *ConflictRepository) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM conflict_log WHERE status = $1`, ConflictOpen); err != nil {
		return 0, fmt.Errorf("store: count open conflicts: %w", err)
	}
	return n, nil
}
