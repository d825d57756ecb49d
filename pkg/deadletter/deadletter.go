// Package deadletter implements component J: quarantining messages
// that exhausted their retry budget so they stop consuming retry
// cycles, and exposing them for operator inspection and replay
// through the management API.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oceanreach/offlinesync/pkg/store"
)

// Queue wraps the dead-letter repository.
type Queue struct {
	repo *store.DeadLetterRepository
}

func NewQueue(repo *store.DeadLetterRepository) *Queue {
	return &Queue{repo: repo}
}

// Quarantine records a message that could not be delivered or
// applied after exhausting its retry budget.
func (q *Queue) Quarantine(ctx context.Context, source, contentType, contentID string, payload json.RawMessage, reason string) error {
	d := &store.DeadLetter{
		Source:      source,
		ContentType: contentType,
		ContentID:   contentID,
		Payload:     store.JSONRaw(payload),
		Reason:      reason,
	}
	if err := q.repo.Append(ctx, d); err != nil {
		return fmt.Errorf("deadletter: quarantine: %w", err)
	}
	return nil
}

// List returns open dead letters for the management API.
func (q *Queue) List(ctx context.Context, limit, offset int) ([]store.DeadLetter, error) {
	return q.repo.List(ctx, limit, offset)
}

// Get fetches one dead letter for replay.
func (q *Queue) Get(ctx context.Context, id string) (*store.DeadLetter, error) {
	return q.repo.Get(ctx, id)
}

// Resolve marks a dead letter resolved after a successful replay or
// an operator's decision to discard it.
func (q *Queue) Resolve(ctx context.Context, id string) error {
	return q.repo.Resolve(ctx, id)
}

// CountOpen returns the number of open dead letters for /metrics.
func (q *Queue) CountOpen(ctx context.Context) (int, error) {
	return q.repo.CountOpen(ctx)
}
