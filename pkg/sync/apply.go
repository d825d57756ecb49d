package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oceanreach/offlinesync/pkg/lifecycle"
	"github.com/oceanreach/offlinesync/pkg/media"
	"github.com/oceanreach/offlinesync/pkg/resolver"
	"github.com/oceanreach/offlinesync/pkg/store"
	"github.com/oceanreach/offlinesync/pkg/types"
	"github.com/oceanreach/offlinesync/pkg/version"
)

// handleIncoming is the bus.Handler invoked for every content
// message received: the exactly-once guard, the version/conflict
// check, auto-merge or surfacing to a human, media pull, and the CMS
// apply, in that order. Any step returning an error leaves the
// message unacknowledged by the bus so a restart redelivers it.
func (e *Engine) handleIncoming(ctx context.Context, msg *types.SyncMessage) error {
	seen, err := e.dedupG.SeenAndRecord(ctx, msg.MessageID)
	if err != nil {
		return fmt.Errorf("handle incoming: dedup check: %w", err)
	}
	if seen {
		e.logger.Debug("sync: dropping already-processed message", "messageId", msg.MessageID)
		return nil
	}

	incomingLocation := string(msg.ShipID)
	decision, local, err := e.version.Check(ctx, msg, incomingLocation)
	if err != nil {
		return fmt.Errorf("handle incoming: version check: %w", err)
	}

	switch decision {
	case version.Stale:
		e.logger.Debug("sync: dropping stale message", "messageId", msg.MessageID, "version", msg.Version)
		return nil
	case version.Conflict:
		err := e.handleConflict(ctx, msg, local)
		if err != nil {
			e.Metrics.IncMessagesFailed()
		} else {
			e.Metrics.IncMessagesProcessed()
		}
		return err
	default:
		err := e.applyAndAck(ctx, msg, incomingLocation)
		if err != nil {
			e.Metrics.IncMessagesFailed()
		} else {
			e.Metrics.IncMessagesProcessed()
		}
		return err
	}
}

func (e *Engine) handleConflict(ctx context.Context, msg *types.SyncMessage, local *store.SyncMetadata) error {
	var localPayload json.RawMessage
	if e.content != nil {
		existing, err := e.content.Get(ctx, msg.ContentType, msg.ContentID)
		if err != nil {
			return fmt.Errorf("handle conflict: read local payload: %w", err)
		}
		localPayload = existing
	}

	diff, err := resolver.Compare(localPayload, msg.Data)
	if err != nil {
		return fmt.Errorf("handle conflict: compare payloads: %w", err)
	}

	localUpdatedAt := time.Now().UTC()
	if local != nil {
		localUpdatedAt = local.UpdatedAt
	}

	c := &resolver.Conflict{
		ContentType:       msg.ContentType,
		ContentID:         msg.ContentID,
		LocalVersion:      versionOf(local),
		IncomingVersion:   msg.Version,
		LocalPayload:      localPayload,
		IncomingPayload:   msg.Data,
		IncomingSource:    types.SourceShip,
		LocalUpdatedAt:    localUpdatedAt,
		IncomingUpdatedAt: msg.Timestamp,
		Diff:              diff,
	}

	outcome, err := e.resolvers.Resolve(c)
	if err != nil {
		return fmt.Errorf("handle conflict: resolve: %w", err)
	}

	if !outcome.Resolved {
		if err := e.version.FlagConflict(ctx, msg.ContentType, msg.ContentID); err != nil {
			return fmt.Errorf("handle conflict: flag conflict: %w", err)
		}
		log := &store.ConflictLog{
			ContentType:     msg.ContentType,
			ContentID:       msg.ContentID,
			LocalVersion:    c.LocalVersion,
			IncomingVersion: c.IncomingVersion,
			LocalPayload:    store.JSONRaw(localPayload),
			IncomingPayload: store.JSONRaw(msg.Data),
			IncomingSource:  string(c.IncomingSource),
			DiffFields:      diff.Fields,
			ConflictType:    conflictKindToStore(diff.Kind),
		}
		if err := e.storeMgr.Conflicts.Create(ctx, log); err != nil {
			return fmt.Errorf("handle conflict: log conflict: %w", err)
		}
		e.storeMgr.Audit.Record(ctx, "conflict_opened", msg.ContentType, msg.ContentID, "system", store.JSONMap{
			"diffFields": diff.Fields,
		})
		return nil
	}

	resolvedMsg := *msg
	resolvedMsg.Data = outcome.Merged
	if err := e.applyAndAck(ctx, &resolvedMsg, string(msg.ShipID)); err != nil {
		return err
	}
	e.storeMgr.Audit.Record(ctx, "conflict_auto_resolved", msg.ContentType, msg.ContentID, "system", store.JSONMap{
		"resolution": outcome.Resolution,
	})
	return nil
}

// ApplyConflictResolution writes a human's resolved payload back
// through the CMS (recreating the entity if it no longer exists
// locally) and advances the version tracker to a new local version,
// so the resolved content is both live and due to be pushed out like
// any other local edit. Used by the management API once a pending
// ConflictLog has been resolved.
func (e *Engine) ApplyConflictResolution(ctx context.Context, contentType, contentID string, merged json.RawMessage) error {
	location := e.shipID
	if e.mode == types.ModeMaster {
		location = types.MasterShipID
	}

	if e.content != nil {
		applyCtx := lifecycle.WithSource(ctx, sourceForLocation(location))
		if err := e.content.Replace(applyCtx, contentType, contentID, merged); err != nil {
			return fmt.Errorf("apply conflict resolution: write via cms: %w", err)
		}
	}

	nextVersion, err := e.version.Increment(ctx, contentType, contentID)
	if err != nil {
		return fmt.Errorf("apply conflict resolution: next version: %w", err)
	}
	msg := &types.SyncMessage{ContentType: contentType, ContentID: contentID, Version: nextVersion}
	if err := e.version.MarkSynced(ctx, msg, location); err != nil {
		return fmt.Errorf("apply conflict resolution: mark synced: %w", err)
	}

	if e.mode == types.ModeReplica {
		if _, err := e.shipQ.Enqueue(ctx, contentType, contentID, nil, types.OpUpdate, merged, nextVersion); err != nil {
			return fmt.Errorf("apply conflict resolution: ship queue: %w", err)
		}
		return nil
	}
	shipIDs, err := e.liveness.Fleet(ctx)
	if err != nil {
		return fmt.Errorf("apply conflict resolution: list fleet: %w", err)
	}
	ids := make([]string, 0, len(shipIDs))
	for _, s := range shipIDs {
		ids = append(ids, s.ShipID)
	}
	if err := e.masterQ.Broadcast(ctx, ids, contentType, contentID, nil, types.OpUpdate, merged, nextVersion); err != nil {
		return fmt.Errorf("apply conflict resolution: master broadcast: %w", err)
	}
	return nil
}

func conflictKindToStore(k resolver.Kind) store.ConflictKind {
	switch k {
	case resolver.KindStructural:
		return store.ConflictKindStructural
	case resolver.KindIndirect:
		return store.ConflictKindIndirect
	default:
		return store.ConflictKindDirect
	}
}

func versionOf(m *store.SyncMetadata) uint64 {
	if m == nil {
		return 0
	}
	return m.SyncVersion
}

// applyAndAck pulls any referenced media, rewrites URLs, applies the
// payload through the CMS content store under a context tagged with
// the message's source (so the lifecycle interceptor's loop
// prevention skips re-capturing it as a new local edit), and advances
// the version tracker.
func (e *Engine) applyAndAck(ctx context.Context, msg *types.SyncMessage, location string) error {
	data := msg.Data

	if e.mediaMir != nil {
		switch e.mode {
		case types.ModeMaster:
			// A replica's push carries any new media it created as
			// explicit FileRecords: resolve or create the matching CMS
			// file row by hash, then remap the payload's own file-id
			// references from the replica's ids to the master's.
			if len(msg.FileRecords) > 0 {
				mapping, err := e.mediaMir.ProcessReplicaFileRecords(ctx, msg.FileRecords)
				if err != nil {
					return fmt.Errorf("apply: process replica file records: %w", err)
				}
				remapped, err := media.UpdateContentFileIds(data, mapping)
				if err != nil {
					return fmt.Errorf("apply: remap file ids: %w", err)
				}
				data = remapped
			}
		case types.ModeReplica:
			if len(msg.FileRecords) > 0 {
				if err := e.mediaMir.PullFromMaster(ctx, msg.FileRecords); err != nil {
					return fmt.Errorf("apply: pull media: %w", err)
				}
				e.storeMgr.Audit.Record(ctx, "media_pulled", msg.ContentType, msg.ContentID, location, store.JSONMap{
					"files": e.mediaMir.RewriteURLs(msg.FileRecords),
				})
			}
			// Media referenced inline in the payload (not carried as
			// explicit FileRecords) is synced and rewritten to local
			// URLs on demand.
			rewritten, err := e.mediaMir.SyncContentMedia(ctx, data)
			if err != nil {
				return fmt.Errorf("apply: sync content media: %w", err)
			}
			data = rewritten
		}
	}

	if e.content != nil {
		applyCtx := lifecycle.WithSource(ctx, sourceForLocation(location))
		if msg.Operation == types.OpDelete {
			if err := e.content.Replace(applyCtx, msg.ContentType, msg.ContentID, nil); err != nil {
				return fmt.Errorf("apply: delete via cms: %w", err)
			}
		} else if err := e.content.Replace(applyCtx, msg.ContentType, msg.ContentID, data); err != nil {
			return fmt.Errorf("apply: write via cms: %w", err)
		}
	}

	if err := e.version.MarkSynced(ctx, msg, location); err != nil {
		return fmt.Errorf("apply: mark synced: %w", err)
	}

	e.storeMgr.Audit.Record(ctx, "apply_"+string(msg.Operation), msg.ContentType, msg.ContentID, location, nil)
	return nil
}

func sourceForLocation(location string) types.Source {
	if location == types.MasterShipID {
		return types.SourceMaster
	}
	return types.SourceShip
}

// EnqueueLocal is the EnqueueFunc passed to lifecycle.New: it stamps
// the next version for a locally originated edit and pushes it onto
// this process's outbound queue (to the master for a replica, or
// broadcast to every ship for the master).
func (e *Engine) EnqueueLocal(ctx context.Context, contentType, contentID string, locale *string, op types.Operation, data json.RawMessage, _ uint64) error {
	nextVersion, err := e.version.Increment(ctx, contentType, contentID)
	if err != nil {
		return fmt.Errorf("enqueue local: next version: %w", err)
	}

	if e.mode == types.ModeReplica {
		if _, err := e.shipQ.Enqueue(ctx, contentType, contentID, locale, op, data, nextVersion); err != nil {
			return fmt.Errorf("enqueue local: ship queue: %w", err)
		}
	} else {
		shipIDs, err := e.liveness.Fleet(ctx)
		if err != nil {
			return fmt.Errorf("enqueue local: list fleet: %w", err)
		}
		ids := make([]string, 0, len(shipIDs))
		for _, s := range shipIDs {
			ids = append(ids, s.ShipID)
		}
		if err := e.masterQ.Broadcast(ctx, ids, contentType, contentID, locale, op, data, nextVersion); err != nil {
			return fmt.Errorf("enqueue local: master broadcast: %w", err)
		}
	}

	msg := &types.SyncMessage{ContentType: contentType, ContentID: contentID, Locale: locale, Version: nextVersion}
	location := e.shipID
	if e.mode == types.ModeMaster {
		location = types.MasterShipID
	}
	return e.version.MarkSynced(ctx, msg, location)
}

// DrainNow triggers an immediate outbound push. The management API's
// push endpoint calls it, and its signature fits the debouncePush
// callback that lifecycle.New takes.
func (e *Engine) DrainNow(ctx context.Context) {
	if err := e.drainOutbound(ctx); err != nil {
		e.logger.Error("sync: debounced drain failed", "error", err)
	}
}
