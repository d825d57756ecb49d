package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// SyncStatus is the coarse sync state of one content item, derivable
// from but stored alongside ConflictFlag/LastSyncedAt so the API and
// janitor don't have to reconstruct it from the other two fields.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// SyncMetadata is the per-content-item bookkeeping row component A
// (pkg/version) reads and writes: the version counter, the last
// location to have modified the row, the sync status, and the
// conflict flag it raises when an incoming update loses to a newer
// local version.
type SyncMetadata struct {
	ContentType        string     `db:"content_type"`
	ContentID          string     `db:"content_id"`
	SyncVersion         uint64     `db:"sync_version"`
	ModifiedByLocation string     `db:"modified_by_location"`
	SyncStatus         SyncStatus `db:"sync_status"`
	LastSyncedAt       *time.Time `db:"last_synced_at"`
	ConflictFlag       bool       `db:"conflict_flag"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// SyncMetadataRepository persists SyncMetadata rows, keyed by
// (content_type, content_id).
type SyncMetadataRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Get returns the metadata row, or nil if the content item has never
// been touched by the sync engine.
func (r *SyncMetadataRepository) Get(ctx context.Context, contentType, contentID string) (*SyncMetadata, error) {
	var m SyncMetadata
	err := r.db.GetContext(ctx, &m, `
		SELECT content_type, content_id, sync_version, modified_by_location, sync_status,
		       last_synced_at, conflict_flag, updated_at
		FROM sync_metadata WHERE content_type = $1 AND content_id = $2`,
		contentType, contentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get sync metadata: %w", err)
	}
	return &m, nil
}

// Upsert inserts or replaces the metadata row for a content item.
func (r *SyncMetadataRepository) Upsert(ctx context.Context, m *SyncMetadata) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sync_metadata (content_type, content_id, sync_version, modified_by_location, sync_status,
		                            last_synced_at, conflict_flag, updated_at)
		VALUES (:content_type, :content_id, :sync_version, :modified_by_location, :sync_status,
		        :last_synced_at, :conflict_flag, :updated_at)
		ON CONFLICT (content_type, content_id) DO UPDATE SET
			sync_version = EXCLUDED.sync_version,
			modified_by_location = EXCLUDED.modified_by_location,
			sync_status = EXCLUDED.sync_status,
			last_synced_at = EXCLUDED.last_synced_at,
			conflict_flag = EXCLUDED.conflict_flag,
			updated_at = EXCLUDED.updated_at`, m)
	if err != nil {
		return fmt.Errorf("store: upsert sync metadata: %w", err)
	}
	return nil
}

// ClearConflict unsets the conflict flag once a conflict has been
// resolved, manually or automatically.
func (r *SyncMetadataRepository) ClearConflict(ctx context.Context, contentType, contentID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_metadata SET conflict_flag = false, sync_status = $3, updated_at = $4
		WHERE content_type = $1 AND content_id = $2`,
		contentType, contentID, SyncStatusSynced, now())
	if err != nil {
		return fmt.Errorf("store: clear conflict flag: %w", err)
	}
	return nil
}
