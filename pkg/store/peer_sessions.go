package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// PeerSession tracks the last time component G (pkg/liveness) heard
// from a given ship, either via heartbeat or any inbound traffic. A
// ship is considered online while now()-LastSeenAt is within the
// configured online threshold.
type PeerSession struct {
	ShipID      string    `db:"ship_id"`
	LastSeenAt  time.Time `db:"last_seen_at"`
	LastVersion uint64    `db:"last_version"`
	Metadata    JSONMap   `db:"metadata"`
}

// PeerSessionRepository persists PeerSession rows.
type PeerSessionRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Touch upserts the last-seen timestamp for a ship.
func (r *PeerSessionRepository) Touch(ctx context.Context, shipID string, version uint64, metadata JSONMap) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO peer_session (ship_id, last_seen_at, last_version, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ship_id) DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at,
			last_version = GREATEST(peer_session.last_version, EXCLUDED.last_version),
			metadata = EXCLUDED.metadata`,
		shipID, now(), version, metadata)
	if err != nil {
		return fmt.Errorf("store: touch peer session: %w", err)
	}
	return nil
}

// Get returns a peer's session, or nil if it has never been seen.
func (r *PeerSessionRepository) Get(ctx context.Context, shipID string) (*PeerSession, error) {
	var p PeerSession
	err := r.db.GetContext(ctx, &p, `SELECT * FROM peer_session WHERE ship_id = $1`, shipID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get peer session: %w", err)
	}
	return &p, nil
}

// ListAll returns every known peer session, used by the janitor to
// evaluate staleness and by /sync/status to report fleet health.
func (r *PeerSessionRepository) ListAll(ctx context.Context) ([]PeerSession, error) {
	var rows []PeerSession
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM peer_session ORDER BY ship_id`); err != nil {
		return nil, fmt.Errorf("store: list peer sessions: %w", err)
	}
	return rows, nil
}

// Prune removes sessions not seen since olderThan, for ships that
// have been decommissioned rather than merely offline.
func (r *PeerSessionRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM peer_session WHERE last_seen_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: prune peer sessions: %w", err)
	}
	return res.RowsAffected()
}
