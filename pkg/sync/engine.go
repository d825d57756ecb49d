// Package sync implements component M: the engine that wires every
// other component together into one running process — bootstrapping
// the bus connection, running the connectivity monitor, the
// heartbeat and auto-push timers, the inbound consumer loop, and the
// periodic janitor, and tearing all of it down cleanly on shutdown.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oceanreach/offlinesync/internal/config"
	"github.com/oceanreach/offlinesync/pkg/bus"
	"github.com/oceanreach/offlinesync/pkg/cms"
	"github.com/oceanreach/offlinesync/pkg/connectivity"
	"github.com/oceanreach/offlinesync/pkg/deadletter"
	"github.com/oceanreach/offlinesync/pkg/dedup"
	"github.com/oceanreach/offlinesync/pkg/lifecycle"
	"github.com/oceanreach/offlinesync/pkg/liveness"
	"github.com/oceanreach/offlinesync/pkg/media"
	"github.com/oceanreach/offlinesync/pkg/metrics"
	"github.com/oceanreach/offlinesync/pkg/queue"
	"github.com/oceanreach/offlinesync/pkg/resolver"
	"github.com/oceanreach/offlinesync/pkg/store"
	"github.com/oceanreach/offlinesync/pkg/types"
	"github.com/oceanreach/offlinesync/pkg/version"
)

// Engine is the top-level offline-sync runtime for one process,
// either master or replica.
type Engine struct {
	cfg    *config.Config
	mode   types.Mode
	shipID string
	logger *slog.Logger

	storeMgr *store.Manager
	bus      *bus.Client
	version  *version.Tracker
	shipQ    *queue.ShipQueue
	masterQ  *queue.MasterQueue
	resolvers *resolver.Registry
	liveness *liveness.Tracker
	conn     *connectivity.Monitor
	dedupG   *dedup.Guard
	deadQ    *deadletter.Queue
	mediaMir *media.Mirror
	content  cms.ContentStore
	Metrics  *metrics.Counters

	wg sync.WaitGroup
}

// New constructs an Engine. content may be nil when the CMS
// integration is not wired (e.g. in a test harness that only
// exercises the bus/queue plumbing).
func New(cfg *config.Config, storeMgr *store.Manager, busClient *bus.Client, mediaMir *media.Mirror, content cms.ContentStore, logger *slog.Logger) *Engine {
	strategies := []resolver.Strategy{}
	switch cfg.Sync.ConflictStrategy {
	case "merge":
		strategies = append(strategies, resolver.NewAutoMergeStrategy())
	case "last_writer_wins":
		strategies = append(strategies, resolver.NewLastWriterWinsStrategy())
	}

	return &Engine{
		cfg:       cfg,
		mode:      cfg.Mode,
		shipID:    cfg.ShipID,
		logger:    logger,
		storeMgr:  storeMgr,
		bus:       busClient,
		version:   version.NewTracker(storeMgr.Sync),
		shipQ:     queue.NewShipQueue(storeMgr.ShipQueue, cfg.Sync.RetryAttempts, logger),
		masterQ:   queue.NewMasterQueue(storeMgr.MasterQueue, cfg.Sync.RetryAttempts, logger),
		resolvers: resolver.NewRegistry(strategies...),
		liveness:  liveness.NewTracker(storeMgr.Peers, cfg.Sync.OnlineThreshold, logger),
		dedupG:    dedup.NewGuard(storeMgr.Processed, cfg.Sync.DedupRetention),
		deadQ:     deadletter.NewQueue(storeMgr.DeadLetters),
		mediaMir:  mediaMir,
		content:   content,
		Metrics:   metrics.New(),
	}
}

// Start connects the bus, starts the connectivity monitor, the
// inbound consumer, the heartbeat and auto-push timers, and the
// janitor, all tied to ctx's lifetime. It blocks until ctx is
// canceled or an unrecoverable error occurs connecting the bus.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.bus.Connect(ctx); err != nil {
		return fmt.Errorf("sync: engine start: %w", err)
	}

	e.conn = connectivity.NewMonitor(
		e.bus.Probe,
		e.cfg.Sync.ConnectivityCheckInterval,
		5*time.Second,
		e.cfg.Sync.ReconnectStabilization,
		e.logger,
	)
	e.conn.OnReconnect(func(ctx context.Context) {
		e.logger.Info("sync: reconnect stabilized, draining outbound queue")
		if err := e.drainOutbound(ctx); err != nil {
			e.logger.Error("sync: post-reconnect drain failed", "error", err)
		}
	})

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.conn.Start(ctx) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.runConsumer(ctx) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.runHeartbeat(ctx) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.runAutoPush(ctx) }()

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.runJanitor(ctx) }()

	<-ctx.Done()
	e.wg.Wait()
	e.bus.Disconnect()
	return nil
}

func (e *Engine) runConsumer(ctx context.Context) {
	if err := e.bus.Consume(ctx, e.handleIncoming, e.handleHeartbeat); err != nil {
		if ctx.Err() == nil {
			e.logger.Error("sync: consumer loop exited with error", "error", err)
		}
	}
}

func (e *Engine) runHeartbeat(ctx context.Context) {
	if e.mode != types.ModeReplica {
		return
	}
	ticker := time.NewTicker(e.cfg.Sync.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.bus.Heartbeat(ctx); err != nil {
				e.logger.Warn("sync: heartbeat publish failed", "error", err)
			}
		}
	}
}

func (e *Engine) runAutoPush(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Sync.AutoPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.drainOutbound(ctx); err != nil {
				e.logger.Error("sync: auto-push drain failed", "error", err)
			}
		}
	}
}

func (e *Engine) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Sync.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runJanitorPass(ctx)
		}
	}
}

func (e *Engine) runJanitorPass(ctx context.Context) {
	if n, err := e.shipQ.Prune(ctx, e.cfg.Sync.QueueRetention); err != nil {
		e.logger.Error("sync: janitor ship queue prune failed", "error", err)
	} else if n > 0 {
		e.logger.Info("sync: janitor pruned ship queue", "count", n)
	}
	if n, err := e.masterQ.Prune(ctx, e.cfg.Sync.QueueRetention); err != nil {
		e.logger.Error("sync: janitor master queue prune failed", "error", err)
	} else if n > 0 {
		e.logger.Info("sync: janitor pruned master queue", "count", n)
	}
	if n, err := e.dedupG.Prune(ctx, e.cfg.Sync.DedupRetention); err != nil {
		e.logger.Error("sync: janitor dedup ledger prune failed", "error", err)
	} else if n > 0 {
		e.logger.Info("sync: janitor pruned dedup ledger", "count", n)
	}
	if n, err := e.storeMgr.Peers.Prune(ctx, time.Now().UTC().Add(-7*24*time.Hour)); err != nil {
		e.logger.Error("sync: janitor peer session prune failed", "error", err)
	} else if n > 0 {
		e.logger.Info("sync: janitor pruned stale peer sessions", "count", n)
	}
}

// drainOutbound pushes every pending queue entry for this process's
// role: a replica drains its single ship queue to the master; the
// master drains every ship's queue in turn.
func (e *Engine) drainOutbound(ctx context.Context) error {
	if e.conn.State() != connectivity.StateOnline {
		return nil
	}
	if e.mode == types.ModeReplica {
		return e.drainShipQueue(ctx)
	}
	return e.drainMasterQueues(ctx)
}

func (e *Engine) drainShipQueue(ctx context.Context) error {
	entries, err := e.shipQ.Drain(ctx, e.cfg.Sync.BatchSize)
	if err != nil {
		return fmt.Errorf("drain ship queue: %w", err)
	}
	for _, entry := range entries {
		msg := &types.SyncMessage{
			MessageID:   types.NewMessageID(e.shipID, time.Now(), entry.ContentID),
			ShipID:      e.shipID,
			Timestamp:   time.Now().UTC(),
			Operation:   entry.Operation,
			ContentType: entry.ContentType,
			ContentID:   entry.ContentID,
			Version:     entry.Version,
			Data:        json.RawMessage(entry.Payload),
			Locale:      entry.Locale,
		}
		if e.mediaMir != nil {
			if records, rerr := media.ExtractFileRecords(json.RawMessage(entry.Payload)); rerr != nil {
				e.logger.Warn("sync: extract file records for push failed", "contentId", entry.ContentID, "error", rerr)
			} else if len(records) > 0 {
				pushed, perr := e.mediaMir.PrepareForPush(ctx, records)
				if perr != nil {
					e.logger.Warn("sync: prepare media for push failed", "contentId", entry.ContentID, "error", perr)
				} else {
					msg.FileRecords = pushed
				}
			}
		}
		if err := e.bus.Publish(ctx, msg); err != nil {
			exhausted, ferr := e.shipQ.Fail(ctx, entry.ID, err)
			if ferr != nil {
				e.logger.Error("sync: mark ship queue entry failed error", "error", ferr)
			}
			if exhausted {
				e.deadQ.Quarantine(ctx, "ship_queue", entry.ContentType, entry.ContentID, json.RawMessage(entry.Payload), err.Error())
			}
			continue
		}
		if err := e.shipQ.Ack(ctx, entry.ID); err != nil {
			e.logger.Error("sync: ack ship queue entry failed", "error", err)
		}
	}
	return nil
}

func (e *Engine) drainMasterQueues(ctx context.Context) error {
	shipIDs, err := e.masterQ.ShipsWithPending(ctx)
	if err != nil {
		return fmt.Errorf("list ships with pending entries: %w", err)
	}
	for _, shipID := range shipIDs {
		entries, err := e.masterQ.DrainFor(ctx, shipID, e.cfg.Sync.BatchSize)
		if err != nil {
			e.logger.Error("sync: drain master queue for ship failed", "shipId", shipID, "error", err)
			continue
		}
		for _, entry := range entries {
			msg := &types.SyncMessage{
				MessageID:   types.NewMessageID(types.MasterShipID, time.Now(), entry.ContentID),
				ShipID:      types.MasterShipID,
				Timestamp:   time.Now().UTC(),
				Operation:   entry.Operation,
				ContentType: entry.ContentType,
				ContentID:   entry.ContentID,
				Version:     entry.Version,
				Data:        json.RawMessage(entry.Payload),
				Locale:      entry.Locale,
			}
			if err := e.bus.Publish(ctx, msg); err != nil {
				exhausted, ferr := e.masterQ.Fail(ctx, entry.ID, err)
				if ferr != nil {
					e.logger.Error("sync: mark master queue entry failed error", "error", ferr)
				}
				if exhausted {
					e.deadQ.Quarantine(ctx, "master_queue", entry.ContentType, entry.ContentID, json.RawMessage(entry.Payload), err.Error())
				}
				continue
			}
			if err := e.masterQ.Ack(ctx, entry.ID); err != nil {
				e.logger.Error("sync: ack master queue entry failed", "error", err)
			}
		}
	}
	return nil
}

func (e *Engine) handleHeartbeat(ctx context.Context, msg *types.SyncMessage) error {
	return e.liveness.Heartbeat(ctx, msg.ShipID, msg.Version)
}
