package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// ProcessedMessageRepository backs component I's de-duplication
// ledger. Redis is the hot path (a SET NX with a TTL, checked before
// any Postgres round trip); Postgres is the durable ledger consulted
// when a replica reconnects after an outage longer than the Redis
// TTL, and is what pruning operates against.
type ProcessedMessageRepository struct {
	db     *sqlx.DB
	redis  *redis.Client
	logger *slog.Logger
}

const dedupKeyPrefix = "offlinesync:processed:"

// SeenAndRecord atomically checks whether messageID has already been
// processed and, if not, records it as processed. It returns true
// when the message was already seen (the caller must skip applying
// it) and consults Redis first, falling back to Postgres only on a
// Redis miss or error so a flushed cache cannot cause a replay.
func (r *ProcessedMessageRepository) SeenAndRecord(ctx context.Context, messageID string, ttl time.Duration) (alreadySeen bool, err error) {
	key := dedupKeyPrefix + messageID
	set, err := r.redis.SetNX(ctx, key, now().Format(time.RFC3339), ttl).Result()
	if err != nil {
		r.logger.Warn("store: redis dedup check failed, falling back to postgres", "error", err)
	} else if !set {
		return true, nil
	}

	var exists bool
	err = r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM processed_message WHERE message_id = $1)`, messageID)
	if err != nil {
		return false, fmt.Errorf("store: check processed message ledger: %w", err)
	}
	if exists {
		return true, nil
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO processed_message (message_id, processed_at) VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING`, messageID, now())
	if err != nil {
		return false, fmt.Errorf("store: record processed message: %w", err)
	}
	return false, nil
}

// Prune deletes ledger rows older than olderThan. Redis entries expire
// on their own TTL and need no pruning.
func (r *ProcessedMessageRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM processed_message WHERE processed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: prune processed message ledger: %w", err)
	}
	return res.RowsAffected()
}
