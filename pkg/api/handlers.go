package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oceanreach/offlinesync/pkg/resolver"
	"github.com/oceanreach/offlinesync/pkg/store"
	"github.com/oceanreach/offlinesync/pkg/types"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	fleet, err := s.live.Fleet(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":  s.cfg.Mode,
		"fleet": fleet,
		"store": s.store.Stats(),
	})
}

func (s *Server) handlePush(c *gin.Context) {
	s.engine.DrainNow(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"status": "push triggered"})
}

// handlePull is the master-only catch-up endpoint (spec §6.5): a
// replica that missed broadcasts during a bus outage asks for
// everything queued for it since a timestamp, rather than waiting on
// the next reconnect-triggered drain.
func (s *Server) handlePull(c *gin.Context) {
	if s.cfg.Mode != types.ModeMaster {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pull is only available on the master"})
		return
	}
	shipID := c.Query("shipId")
	if shipID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shipId is required"})
		return
	}
	since := time.Unix(0, 0).UTC()
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = t
	}
	limit := queryInt(c, "limit", 100)

	entries, err := s.store.MasterQueue.ChangedSince(c.Request.Context(), shipID, since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": entries})
}

func (s *Server) handleListConflicts(c *gin.Context) {
	contentType := c.Query("contentType")
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	conflicts, err := s.store.Conflicts.ListOpen(c.Request.Context(), contentType, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

type resolveConflictRequest struct {
	Resolution string          `json:"resolution" binding:"required"`
	ResolvedBy string          `json:"resolvedBy" binding:"required"`
	Edited     json.RawMessage `json:"edited,omitempty"`
}

func (s *Server) handleResolveConflict(c *gin.Context) {
	id := c.Param("id")
	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log, err := s.store.Conflicts.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if log == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conflict not found"})
		return
	}

	conflict := &resolver.Conflict{
		ContentType:     log.ContentType,
		ContentID:       log.ContentID,
		LocalVersion:    log.LocalVersion,
		IncomingVersion: log.IncomingVersion,
		LocalPayload:    json.RawMessage(log.LocalPayload),
		IncomingPayload: json.RawMessage(log.IncomingPayload),
	}
	outcome, err := resolver.ManualResolution(req.Resolution, conflict, req.Edited)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Write the chosen payload back through the CMS and re-sync its
	// metadata before marking the conflict itself resolved, so a
	// resolve that fails partway leaves the conflict open for retry
	// rather than reporting success with nothing actually applied.
	if err := s.engine.ApplyConflictResolution(c.Request.Context(), log.ContentType, log.ContentID, outcome.Merged); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.Conflicts.Resolve(c.Request.Context(), id, outcome.Resolution, req.ResolvedBy, store.JSONRaw(outcome.Merged)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.Sync.ClearConflict(c.Request.Context(), log.ContentType, log.ContentID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.store.Audit.Record(c.Request.Context(), "conflict_resolved", log.ContentType, log.ContentID, req.ResolvedBy, nil)

	c.JSON(http.StatusOK, gin.H{"status": "resolved", "resolution": outcome.Resolution})
}

func (s *Server) handleListDeadLetters(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	letters, err := s.dead.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deadLetters": letters})
}

func (s *Server) handleResolveDeadLetter(c *gin.Context) {
	id := c.Param("id")
	if err := s.dead.Resolve(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	snap := s.metrics.Snapshot()
	if n, err := s.store.Conflicts.CountOpen(c.Request.Context()); err == nil {
		snap.OpenConflicts = n
	}
	if n, err := s.store.DeadLetters.CountOpen(c.Request.Context()); err == nil {
		snap.DeadLetterCount = n
	}
	c.JSON(http.StatusOK, snap)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
