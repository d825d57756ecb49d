package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/oceanreach/offlinesync/pkg/types"
)

// QueueStatus is the lifecycle state of one outbound queue entry.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSynced  QueueStatus = "synced"
	QueueFailed  QueueStatus = "failed"
)

// ShipQueueEntry is a row in a replica's outbound queue to the
// master (component B). There is at most one pending row per
// (content_type, content_id, locale): a later local edit to the same
// locale coalesces into the existing pending row rather than
// appending a new one; a different locale gets its own row.
type ShipQueueEntry struct {
	ID          string      `db:"id"`
	ContentType string      `db:"content_type"`
	ContentID   string      `db:"content_id"`
	Locale      *string     `db:"locale"`
	Operation   types.Operation `db:"operation"`
	Payload     JSONRaw     `db:"payload"`
	Version     uint64      `db:"version"`
	Status      QueueStatus `db:"status"`
	Attempts    int         `db:"attempts"`
	LastError   *string     `db:"last_error"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

// MasterQueueEntry is a row in the master's outbound queue to a
// specific ship (component C). Coalescing happens per
// (ship_id, content_type, content_id, locale).
type MasterQueueEntry struct {
	ID          string      `db:"id"`
	ShipID      string      `db:"ship_id"`
	ContentType string      `db:"content_type"`
	ContentID   string      `db:"content_id"`
	Locale      *string     `db:"locale"`
	Operation   types.Operation `db:"operation"`
	Payload     JSONRaw     `db:"payload"`
	Version     uint64      `db:"version"`
	Status      QueueStatus `db:"status"`
	Attempts    int         `db:"attempts"`
	LastError   *string     `db:"last_error"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

// localeKey normalizes a nil locale to the empty string for use in a
// SQL equality comparison, since "locale IS NULL" and "locale = $n"
// don't compose in one parameterized WHERE clause.
func localeKey(locale *string) string {
	if locale == nil {
		return ""
	}
	return *locale
}

// ShipQueueRepository backs a replica's outbound queue to the master.
type ShipQueueRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Enqueue inserts a new pending entry, or coalesces into the existing
// pending entry for the same content item and locale, overwriting its
// payload, operation, and version and resetting its attempt counter.
func (r *ShipQueueRepository) Enqueue(ctx context.Context, contentType, contentID string, locale *string, op types.Operation, payload JSONRaw, version uint64) (*ShipQueueEntry, error) {
	var existing ShipQueueEntry
	err := r.db.GetContext(ctx, &existing, `
		SELECT id, content_type, content_id, locale, operation, payload, version, status, attempts, last_error, created_at, updated_at
		FROM ship_queue WHERE content_type = $1 AND content_id = $2 AND coalesce(locale, '') = $3 AND status = $4
		FOR UPDATE`, contentType, contentID, localeKey(locale), QueuePending)
	switch err {
	case nil:
		existing.Operation = op
		existing.Payload = payload
		existing.Version = version
		existing.Attempts = 0
		existing.LastError = nil
		existing.UpdatedAt = now()
		if _, err := r.db.NamedExecContext(ctx, `
			UPDATE ship_queue SET operation = :operation, payload = :payload, version = :version,
			                      attempts = :attempts, last_error = :last_error, updated_at = :updated_at
			WHERE id = :id`, &existing); err != nil {
			return nil, fmt.Errorf("store: coalesce ship queue entry: %w", err)
		}
		return &existing, nil
	case sql.ErrNoRows:
		entry := &ShipQueueEntry{
			ID:          uuid.NewString(),
			ContentType: contentType,
			ContentID:   contentID,
			Locale:      locale,
			Operation:   op,
			Payload:     payload,
			Version:     version,
			Status:      QueuePending,
			CreatedAt:   now(),
			UpdatedAt:   now(),
		}
		if _, err := r.db.NamedExecContext(ctx, `
			INSERT INTO ship_queue (id, content_type, content_id, locale, operation, payload, version, status, attempts, last_error, created_at, updated_at)
			VALUES (:id, :content_type, :content_id, :locale, :operation, :payload, :version, :status, :attempts, :last_error, :created_at, :updated_at)`, entry); err != nil {
			return nil, fmt.Errorf("store: insert ship queue entry: %w", err)
		}
		return entry, nil
	default:
		return nil, fmt.Errorf("store: lookup ship queue entry: %w", err)
	}
}

// GetPending returns up to limit pending entries, oldest first.
func (r *ShipQueueRepository) GetPending(ctx context.Context, limit int) ([]ShipQueueEntry, error) {
	var entries []ShipQueueEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, content_type, content_id, locale, operation, payload, version, status, attempts, last_error, created_at, updated_at
		FROM ship_queue WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, QueuePending, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get pending ship queue entries: %w", err)
	}
	return entries, nil
}

// MarkSynced transitions an entry to synced.
func (r *ShipQueueRepository) MarkSynced(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE ship_queue SET status = $2, updated_at = $3 WHERE id = $1`, id, QueueSynced, now())
	if err != nil {
		return fmt.Errorf("store: mark ship queue entry synced: %w", err)
	}
	return nil
}

// MarkFailed increments the attempt counter and records the error.
// Once attempts reaches maxAttempts the entry transitions to failed
// so the caller can route it to the dead-letter queue instead of
// retrying forever.
func (r *ShipQueueRepository) MarkFailed(ctx context.Context, id string, cause error, maxAttempts int) (exhausted bool, err error) {
	msg := cause.Error()
	var attempts int
	err = r.db.GetContext(ctx, &attempts, `
		UPDATE ship_queue SET attempts = attempts + 1, last_error = $2, updated_at = $3
		WHERE id = $1 RETURNING attempts`, id, msg, now())
	if err != nil {
		return false, fmt.Errorf("store: mark ship queue entry failed: %w", err)
	}
	if attempts >= maxAttempts {
		if _, err := r.db.ExecContext(ctx, `UPDATE ship_queue SET status = $2, updated_at = $3 WHERE id = $1`, id, QueueFailed, now()); err != nil {
			return false, fmt.Errorf("store: mark ship queue entry exhausted: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// RetryFailed resets all failed entries back to pending with a
// cleared attempt counter, for operator-triggered or scheduled retry.
func (r *ShipQueueRepository) RetryFailed(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE ship_queue SET status = $1, attempts = 0, last_error = NULL, updated_at = $2 WHERE status = $3`,
		QueuePending, now(), QueueFailed)
	if err != nil {
		return 0, fmt.Errorf("store: retry failed ship queue entries: %w", err)
	}
	return res.RowsAffected()
}

// Prune removes synced entries older than olderThan.
func (r *ShipQueueRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ship_queue WHERE status = $1 AND updated_at < $2`, QueueSynced, olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: prune ship queue: %w", err)
	}
	return res.RowsAffected()
}

// MasterQueueRepository backs the master's per-ship outbound queues.
type MasterQueueRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Enqueue inserts or coalesces a pending entry for
// (shipID, contentType, contentID, locale).
func (r *MasterQueueRepository) Enqueue(ctx context.Context, shipID, contentType, contentID string, locale *string, op types.Operation, payload JSONRaw, version uint64) (*MasterQueueEntry, error) {
	var existing MasterQueueEntry
	err := r.db.GetContext(ctx, &existing, `
		SELECT id, ship_id, content_type, content_id, locale, operation, payload, version, status, attempts, last_error, created_at, updated_at
		FROM master_queue WHERE ship_id = $1 AND content_type = $2 AND content_id = $3 AND coalesce(locale, '') = $4 AND status = $5
		FOR UPDATE`, shipID, contentType, contentID, localeKey(locale), QueuePending)
	switch err {
	case nil:
		existing.Operation = op
		existing.Payload = payload
		existing.Version = version
		existing.Attempts = 0
		existing.LastError = nil
		existing.UpdatedAt = now()
		if _, err := r.db.NamedExecContext(ctx, `
			UPDATE master_queue SET operation = :operation, payload = :payload, version = :version,
			                        attempts = :attempts, last_error = :last_error, updated_at = :updated_at
			WHERE id = :id`, &existing); err != nil {
			return nil, fmt.Errorf("store: coalesce master queue entry: %w", err)
		}
		return &existing, nil
	case sql.ErrNoRows:
		entry := &MasterQueueEntry{
			ID:          uuid.NewString(),
			ShipID:      shipID,
			ContentType: contentType,
			ContentID:   contentID,
			Locale:      locale,
			Operation:   op,
			Payload:     payload,
			Version:     version,
			Status:      QueuePending,
			CreatedAt:   now(),
			UpdatedAt:   now(),
		}
		if _, err := r.db.NamedExecContext(ctx, `
			INSERT INTO master_queue (id, ship_id, content_type, content_id, locale, operation, payload, version, status, attempts, last_error, created_at, updated_at)
			VALUES (:id, :ship_id, :content_type, :content_id, :locale, :operation, :payload, :version, :status, :attempts, :last_error, :created_at, :updated_at)`, entry); err != nil {
			return nil, fmt.Errorf("store: insert master queue entry: %w", err)
		}
		return entry, nil
	default:
		return nil, fmt.Errorf("store: lookup master queue entry: %w", err)
	}
}

// GetPendingForShip returns up to limit pending entries for one ship.
func (r *MasterQueueRepository) GetPendingForShip(ctx context.Context, shipID string, limit int) ([]MasterQueueEntry, error) {
	var entries []MasterQueueEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, ship_id, content_type, content_id, locale, operation, payload, version, status, attempts, last_error, created_at, updated_at
		FROM master_queue WHERE ship_id = $1 AND status = $2 ORDER BY created_at ASC LIMIT $3`, shipID, QueuePending, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get pending master queue entries: %w", err)
	}
	return entries, nil
}

// AllShipIDsWithPending returns the distinct ship ids that currently
// have at least one pending entry, used to fan the broadcast loop out
// across only the ships that need it.
func (r *MasterQueueRepository) AllShipIDsWithPending(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT ship_id FROM master_queue WHERE status = $1`, QueuePending)
	if err != nil {
		return nil, fmt.Errorf("store: list ships with pending entries: %w", err)
	}
	return ids, nil
}

// ChangedSince returns entries queued for shipID (pending or already
// delivered) updated after since, newest first, backing the pull
// endpoint a replica uses to catch up after a gap in its bus
// connection instead of waiting for the next broadcast.
func (r *MasterQueueRepository) ChangedSince(ctx context.Context, shipID string, since time.Time, limit int) ([]MasterQueueEntry, error) {
	var entries []MasterQueueEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, ship_id, content_type, content_id, locale, operation, payload, version, status, attempts, last_error, created_at, updated_at
		FROM master_queue WHERE ship_id = $1 AND updated_at > $2 AND status != $3 ORDER BY updated_at DESC LIMIT $4`,
		shipID, since, QueueFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list changes since for ship: %w", err)
	}
	return entries, nil
}

// MarkSynced transitions an entry to synced.
func (r *MasterQueueRepository) MarkSynced(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE master_queue SET status = $2, updated_at = $3 WHERE id = $1`, id, QueueSynced, now())
	if err != nil {
		return fmt.Errorf("store: mark master queue entry synced: %w", err)
	}
	return nil
}

// MarkFailed mirrors ShipQueueRepository.MarkFailed for the master
// side's per-ship queues.
func (r *MasterQueueRepository) MarkFailed(ctx context.Context, id string, cause error, maxAttempts int) (exhausted bool, err error) {
	msg := cause.Error()
	var attempts int
	err = r.db.GetContext(ctx, &attempts, `
		UPDATE master_queue SET attempts = attempts + 1, last_error = $2, updated_at = $3
		WHERE id = $1 RETURNING attempts`, id, msg, now())
	if err != nil {
		return false, fmt.Errorf("store: mark master queue entry failed: %w", err)
	}
	if attempts >= maxAttempts {
		if _, err := r.db.ExecContext(ctx, `UPDATE master_queue SET status = $2, updated_at = $3 WHERE id = $1`, id, QueueFailed, now()); err != nil {
			return false, fmt.Errorf("store: mark master queue entry exhausted: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// Prune removes synced entries older than olderThan.
func (r *MasterQueueRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM master_queue WHERE status = $1 AND updated_at < $2`, QueueSynced, olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: prune master queue: %w", err)
	}
	return res.RowsAffected()
}
