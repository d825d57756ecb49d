// Package dedup implements component I: the exactly-once-apply
// guard layered over the bus's at-least-once delivery. Every inbound
// message is checked against a Redis-fronted Postgres ledger of
// message ids that have already been applied, before it ever reaches
// component F's conflict check.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/oceanreach/offlinesync/pkg/store"
)

// Guard wraps the processed-message ledger.
type Guard struct {
	repo *store.ProcessedMessageRepository
	ttl  time.Duration
}

func NewGuard(repo *store.ProcessedMessageRepository, ttl time.Duration) *Guard {
	return &Guard{repo: repo, ttl: ttl}
}

// SeenAndRecord reports whether messageID was already applied. When
// it returns false, the caller proceeds to apply the message; the
// ledger entry is written atomically with the check so a concurrent
// redelivery cannot slip through.
func (g *Guard) SeenAndRecord(ctx context.Context, messageID string) (alreadySeen bool, err error) {
	seen, err := g.repo.SeenAndRecord(ctx, messageID, g.ttl)
	if err != nil {
		return false, fmt.Errorf("dedup: %w", err)
	}
	return seen, nil
}

// Prune removes ledger rows older than retention from the durable
// store. Redis entries expire on their own TTL.
func (g *Guard) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := g.repo.Prune(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("dedup: prune: %w", err)
	}
	return n, nil
}
