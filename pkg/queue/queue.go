// Package queue implements components B and C: the durable outbound
// queues a replica uses to push local edits to the master, and the
// master uses to push edits out to each replica. Both sides keep at
// most one pending row per content item — a later local edit
// coalesces into the still-pending row instead of appending a new
// one, so a content item edited five times while offline produces
// one outbound message, not five.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oceanreach/offlinesync/pkg/store"
	"github.com/oceanreach/offlinesync/pkg/types"
)

// ShipQueue is a replica's outbound queue to the master.
type ShipQueue struct {
	repo        *store.ShipQueueRepository
	maxAttempts int
	logger      *slog.Logger
}

func NewShipQueue(repo *store.ShipQueueRepository, maxAttempts int, logger *slog.Logger) *ShipQueue {
	return &ShipQueue{repo: repo, maxAttempts: maxAttempts, logger: logger}
}

// Enqueue records a local edit for push to the master, coalescing
// with any still-pending entry for the same content item and locale.
func (q *ShipQueue) Enqueue(ctx context.Context, contentType, contentID string, locale *string, op types.Operation, data json.RawMessage, version uint64) (*store.ShipQueueEntry, error) {
	entry, err := q.repo.Enqueue(ctx, contentType, contentID, locale, op, store.JSONRaw(data), version)
	if err != nil {
		return nil, fmt.Errorf("queue: enqueue ship entry: %w", err)
	}
	return entry, nil
}

// Drain returns up to limit pending entries ready to push.
func (q *ShipQueue) Drain(ctx context.Context, limit int) ([]store.ShipQueueEntry, error) {
	return q.repo.GetPending(ctx, limit)
}

// Ack marks an entry successfully delivered.
func (q *ShipQueue) Ack(ctx context.Context, id string) error {
	return q.repo.MarkSynced(ctx, id)
}

// Fail records a delivery failure. It returns true once the entry has
// exhausted its retry budget, signaling the caller to route it to the
// dead-letter queue instead of leaving it to retry forever.
func (q *ShipQueue) Fail(ctx context.Context, id string, cause error) (exhausted bool, err error) {
	return q.repo.MarkFailed(ctx, id, cause, q.maxAttempts)
}

// RetryFailed resets every failed entry back to pending, for a
// manual or scheduled retry sweep.
func (q *ShipQueue) RetryFailed(ctx context.Context) (int64, error) {
	return q.repo.RetryFailed(ctx)
}

// Prune deletes synced entries older than retention.
func (q *ShipQueue) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return q.repo.Prune(ctx, time.Now().UTC().Add(-retention))
}

// MasterQueue is the master's per-ship outbound queue.
type MasterQueue struct {
	repo        *store.MasterQueueRepository
	maxAttempts int
	logger      *slog.Logger
}

func NewMasterQueue(repo *store.MasterQueueRepository, maxAttempts int, logger *slog.Logger) *MasterQueue {
	return &MasterQueue{repo: repo, maxAttempts: maxAttempts, logger: logger}
}

// Broadcast enqueues an edit for every ship, coalescing per ship the
// same way EnqueueFor does for a single one. Callers that need to
// fan out to the full fleet (e.g. a master-originated edit) should
// pass the known ship ids; EnqueueFor is for a single targeted push.
func (q *MasterQueue) Broadcast(ctx context.Context, shipIDs []string, contentType, contentID string, locale *string, op types.Operation, data json.RawMessage, version uint64) error {
	for _, shipID := range shipIDs {
		if _, err := q.EnqueueFor(ctx, shipID, contentType, contentID, locale, op, data, version); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueFor records an edit for push to a single ship.
func (q *MasterQueue) EnqueueFor(ctx context.Context, shipID, contentType, contentID string, locale *string, op types.Operation, data json.RawMessage, version uint64) (*store.MasterQueueEntry, error) {
	entry, err := q.repo.Enqueue(ctx, shipID, contentType, contentID, locale, op, store.JSONRaw(data), version)
	if err != nil {
		return nil, fmt.Errorf("queue: enqueue master entry for %s: %w", shipID, err)
	}
	return entry, nil
}

// DrainFor returns up to limit pending entries for one ship.
func (q *MasterQueue) DrainFor(ctx context.Context, shipID string, limit int) ([]store.MasterQueueEntry, error) {
	return q.repo.GetPendingForShip(ctx, shipID, limit)
}

// ShipsWithPending returns the ship ids that currently have
// outstanding work, so the push loop only dials ships that need it.
func (q *MasterQueue) ShipsWithPending(ctx context.Context) ([]string, error) {
	return q.repo.AllShipIDsWithPending(ctx)
}

// Ack marks an entry successfully delivered.
func (q *MasterQueue) Ack(ctx context.Context, id string) error {
	return q.repo.MarkSynced(ctx, id)
}

// Fail records a delivery failure, reporting whether the retry budget
// is now exhausted.
func (q *MasterQueue) Fail(ctx context.Context, id string, cause error) (exhausted bool, err error) {
	return q.repo.MarkFailed(ctx, id, cause, q.maxAttempts)
}

// Prune deletes synced entries older than retention.
func (q *MasterQueue) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return q.repo.Prune(ctx, time.Now().UTC().Add(-retention))
}
