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

// DeadLetterStatus is the lifecycle state of a quarantined message.
type DeadLetterStatus string

const (
	DeadLetterOpen     DeadLetterStatus = "open"
	DeadLetterResolved DeadLetterStatus = "resolved"
)

// DeadLetter is a message that exhausted its retry budget (component
// B/C/D/E's shared retry cap) and was quarantined rather than
// retried forever or silently dropped.
type DeadLetter struct {
	ID          string           `db:"id"`
	Source      string           `db:"source"` // "ship_queue", "master_queue", "bus_consumer"
	ContentType string           `db:"content_type"`
	ContentID   string           `db:"content_id"`
	Payload     JSONRaw          `db:"payload"`
	Reason      string           `db:"reason"`
	Status      DeadLetterStatus `db:"status"`
	CreatedAt   time.Time        `db:"created_at"`
	ResolvedAt  *time.Time       `db:"resolved_at"`
}

// DeadLetterRepository persists DeadLetter rows.
type DeadLetterRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Append quarantines a message.
func (r *DeadLetterRepository) Append(ctx context.Context, d *DeadLetter) error {
	d.ID = uuid.NewString()
	d.Status = DeadLetterOpen
	d.CreatedAt = now()
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO dead_letter (id, source, content_type, content_id, payload, reason, status, created_at, resolved_at)
		VALUES (:id, :source, :content_type, :content_id, :payload, :reason, :status, :created_at, :resolved_at)`, d)
	if err != nil {
		return fmt.Errorf("store: append dead letter: %w", err)
	}
	return nil
}

// List returns open dead letters, newest first.
func (r *DeadLetterRepository) List(ctx context.Context, limit, offset int) ([]DeadLetter, error) {
	var rows []DeadLetter
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM dead_letter WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		DeadLetterOpen, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list dead letters: %w", err)
	}
	return rows, nil
}

// Get fetches one dead letter by id for operator-triggered replay.
func (r *DeadLetterRepository) Get(ctx context.Context, id string) (*DeadLetter, error) {
	var d DeadLetter
	err := r.db.GetContext(ctx, &d, `SELECT * FROM dead_letter WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get dead letter: %w", err)
	}
	return &d, nil
}

// Resolve marks a dead letter resolved, either because it was
// replayed successfully or an operator chose to discard it.
func (r *DeadLetterRepository) Resolve(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE dead_letter SET status = $2, resolved_at = $3 WHERE id = $1`,
		id, DeadLetterResolved, now())
	if err != nil {
		return fmt.Errorf("store: resolve dead letter: %w", err)
	}
	return nil
}

// CountOpen returns the number of open dead letters, used by /metrics.
func (r *DeadLetterRepository) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM dead_letter WHERE status = $1`, DeadLetterOpen); err != nil {
		return 0, fmt.Errorf("store: count open dead letters: %w", err)
	}
	return n, nil
}
