// Package liveness implements component G: tracking the last time
// each ship was heard from, reporting whether it is currently
// considered online, and periodically pruning sessions for ships
// that have been gone long enough to be considered decommissioned
// rather than merely offline.
package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oceanreach/offlinesync/pkg/store"
)

// Tracker records and evaluates PeerSession rows.
type Tracker struct {
	repo            *store.PeerSessionRepository
	onlineThreshold time.Duration
	logger          *slog.Logger
}

func NewTracker(repo *store.PeerSessionRepository, onlineThreshold time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{repo: repo, onlineThreshold: onlineThreshold, logger: logger}
}

// Heartbeat records that shipID is alive as of now, at the version it
// last reported having applied.
func (t *Tracker) Heartbeat(ctx context.Context, shipID string, version uint64) error {
	if err := t.repo.Touch(ctx, shipID, version, nil); err != nil {
		return fmt.Errorf("liveness: heartbeat: %w", err)
	}
	return nil
}

// Status is the liveness snapshot for one ship.
type Status struct {
	ShipID     string
	Online     bool
	LastSeenAt time.Time
}

// Status returns the current liveness of a single ship.
func (t *Tracker) Status(ctx context.Context, shipID string) (*Status, error) {
	session, err := t.repo.Get(ctx, shipID)
	if err != nil {
		return nil, fmt.Errorf("liveness: status: %w", err)
	}
	if session == nil {
		return &Status{ShipID: shipID, Online: false}, nil
	}
	return &Status{
		ShipID:     shipID,
		Online:     time.Since(session.LastSeenAt) <= t.onlineThreshold,
		LastSeenAt: session.LastSeenAt,
	}, nil
}

// Fleet returns the liveness snapshot for every known ship, used by
// the management API's /sync/status endpoint.
func (t *Tracker) Fleet(ctx context.Context) ([]Status, error) {
	sessions, err := t.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("liveness: fleet: %w", err)
	}
	statuses := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, Status{
			ShipID:     s.ShipID,
			Online:     time.Since(s.LastSeenAt) <= t.onlineThreshold,
			LastSeenAt: s.LastSeenAt,
		})
	}
	return statuses, nil
}

// Janitor periodically prunes peer sessions that have not been seen
// in a long time, distinct from the short online-threshold window:
// a ship absent for a week is stale bookkeeping, not merely offline.
func (t *Tracker) Janitor(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.repo.Prune(ctx, time.Now().UTC().Add(-staleAfter))
			if err != nil {
				t.logger.Error("liveness: janitor prune failed", "error", err)
				continue
			}
			if n > 0 {
				t.logger.Info("liveness: pruned stale peer sessions", "count", n)
			}
		}
	}
}
