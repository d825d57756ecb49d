package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/oceanreach/offlinesync/internal/config"
)

// Manager owns the Postgres connection pool and Redis client shared
// by every repository in this package, and exposes the small set of
// cross-cutting operations (health, stats, transactions) the rest of
// the engine needs without reaching into sqlx directly.
type Manager struct {
	db     *sqlx.DB
	redis  *redis.Client
	logger *slog.Logger

	Sync        *SyncMetadataRepository
	ShipQueue   *ShipQueueRepository
	MasterQueue *MasterQueueRepository
	Conflicts   *ConflictRepository
	Peers       *PeerSessionRepository
	Processed   *ProcessedMessageRepository
	DeadLetters *DeadLetterRepository
	Audit       *AuditRepository
}

// NewManager opens the Postgres pool and Redis client described by
// cfg and wires every repository against them.
func NewManager(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Name,
		cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.SSLMode,
	)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect redis: %w", err)
	}

	m := &Manager{db: db, redis: rdb, logger: logger}
	m.Sync = &SyncMetadataRepository{db: db, logger: logger}
	m.ShipQueue = &ShipQueueRepository{db: db, logger: logger}
	m.MasterQueue = &MasterQueueRepository{db: db, logger: logger}
	m.Conflicts = &ConflictRepository{db: db, logger: logger}
	m.Peers = &PeerSessionRepository{db: db, logger: logger}
	m.Processed = &ProcessedMessageRepository{db: db, redis: rdb, logger: logger}
	m.DeadLetters = &DeadLetterRepository{db: db, logger: logger}
	m.Audit = &AuditRepository{db: db, logger: logger}
	return m, nil
}

// Health pings both stores and reports the first failure encountered.
func (m *Manager) Health(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: postgres unhealthy: %w", err)
	}
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: redis unhealthy: %w", err)
	}
	return nil
}

// Stats returns pool statistics useful for the management API's
// /sync/status endpoint.
func (m *Manager) Stats() map[string]interface{} {
	dbStats := m.db.Stats()
	return map[string]interface{}{
		"postgres": map[string]interface{}{
			"openConnections": dbStats.OpenConnections,
			"inUse":           dbStats.InUse,
			"idle":            dbStats.Idle,
			"waitCount":       dbStats.WaitCount,
			"waitDuration":    dbStats.WaitDuration.String(),
		},
	}
}

// WithTransaction runs fn inside a single Postgres transaction,
// committing on success and rolling back on any error or panic.
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				m.logger.Error("store: rollback failed", "error", rbErr)
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// Close releases the Postgres pool and Redis client.
func (m *Manager) Close() error {
	if err := m.redis.Close(); err != nil {
		m.logger.Warn("store: redis close failed", "error", err)
	}
	return m.db.Close()
}

// now is a seam so repositories can stamp times without importing
// time.Now directly in every file.
func now() time.Time { return time.Now().UTC() }
