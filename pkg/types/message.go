// Package types holds the wire and domain types shared across the
// offline-sync subsystem: the SyncMessage envelope exchanged on the
// bus, file records used for media propagation, and the small set of
// enums every component agrees on.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of content mutation a SyncMessage carries.
type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpPublish Operation = "publish"
)

// Source identifies which side produced an operation being applied,
// used for loop prevention. It is carried per-apply through a
// context.Context value, never a package-level flag.
type Source string

const (
	SourceLocal  Source = "local"
	SourceMaster Source = "master"
	SourceShip   Source = "ship"
)

// Mode is the fixed, immutable-for-process-lifetime role a deployment
// runs in.
type Mode string

const (
	ModeMaster  Mode = "master"
	ModeReplica Mode = "replica"
)

const MasterShipID = "master"

// SyncMessage is the envelope exchanged on the master-updates and
// ship-updates topics (spec §6.1).
type SyncMessage struct {
	MessageID   string          `json:"messageId"`
	ShipID      string          `json:"shipId"`
	Timestamp   time.Time       `json:"timestamp"`
	Operation   Operation       `json:"operation"`
	ContentType string          `json:"contentType"`
	ContentID   string          `json:"contentId"`
	Version     uint64          `json:"version"`
	Data        json.RawMessage `json:"data,omitempty"`
	Locale      *string         `json:"locale,omitempty"`
	FileRecords []FileRecord    `json:"fileRecords,omitempty"`
}

// NewMessageID builds the canonical "<shipId>-<ms-timestamp>-<contentId>" id.
func NewMessageID(shipID string, ts time.Time, contentID string) string {
	return fmt.Sprintf("%s-%d-%s", shipID, ts.UnixMilli(), contentID)
}

// Validate checks the envelope carries everything a consumer needs
// before it is handed to the resolver. It never inspects Data beyond
// presence, since the payload shape is owned by the CMS's content-type
// definitions, not the sync engine.
func (m *SyncMessage) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("sync message: missing messageId")
	}
	if m.ShipID == "" {
		return fmt.Errorf("sync message: missing shipId")
	}
	if m.ContentType == "" {
		return fmt.Errorf("sync message: missing contentType")
	}
	if m.ContentID == "" {
		return fmt.Errorf("sync message: missing contentId")
	}
	switch m.Operation {
	case OpCreate, OpUpdate, OpDelete, OpPublish:
	default:
		return fmt.Errorf("sync message: unknown operation %q", m.Operation)
	}
	if m.Operation != OpDelete && m.ContentType != HeartbeatContentType && len(m.Data) == 0 {
		return fmt.Errorf("sync message: missing data for operation %q", m.Operation)
	}
	return nil
}

// HeartbeatContentType marks a SyncMessage as a liveness ping rather
// than a content mutation: it carries no Data and is never applied
// by component F, only observed by component G.
const HeartbeatContentType = "__heartbeat__"

// FileRecord describes a media object's metadata for propagation
// between the master's file table and a replica's (spec §6.2). Hash is
// the primary de-duplication key on the receiving side.
type FileRecord struct {
	ID                string                 `json:"id"`
	DocumentID        string                 `json:"documentId"`
	Name              string                 `json:"name"`
	Hash              string                 `json:"hash"`
	Ext               string                 `json:"ext"`
	Mime              string                 `json:"mime"`
	Size              int64                  `json:"size"`
	URL               string                 `json:"url"`
	PreviewURL        string                 `json:"previewUrl,omitempty"`
	Width             int                    `json:"width,omitempty"`
	Height            int                    `json:"height,omitempty"`
	Formats           map[string]FileFormat  `json:"formats,omitempty"`
	Provider          string                 `json:"provider,omitempty"`
	ProviderMetadata  map[string]interface{} `json:"provider_metadata,omitempty"`
	FolderPath        string                 `json:"folderPath,omitempty"`
	AlternativeText   string                 `json:"alternativeText,omitempty"`
	Caption           string                 `json:"caption,omitempty"`
}

// FileFormat is one rendition of a FileRecord (thumbnail, small, …).
type FileFormat struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// reservedMetadataFields are excluded from field-wise conflict
// comparisons and from the auto-merge: they are owned by the sync
// engine, not the content author.
var reservedMetadataFields = map[string]bool{
	"id":                 true,
	"createdAt":          true,
	"updatedAt":          true,
	"syncVersion":        true,
	"syncStatus":         true,
	"modifiedByLocation": true,
	"lastSyncedAt":       true,
	"conflictFlag":       true,
}

// IsReservedField reports whether a field name is part of the sync
// metadata reserved set and should be skipped by conflict/merge logic.
func IsReservedField(name string) bool {
	return reservedMetadataFields[name]
}
