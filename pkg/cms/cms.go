// Package cms declares the contract the host content-management
// system must satisfy for the offline-sync subsystem to hook into it.
// The CMS itself is an external collaborator outside this module's
// scope: these are the interfaces component L's lifecycle interceptor
// is written against, not an implementation of a CMS.
package cms

import (
	"context"
	"encoding/json"

	"github.com/oceanreach/offlinesync/pkg/types"
)

// Event is what the CMS hands the lifecycle interceptor on every
// content mutation, mirroring a typical document-middleware shape:
// one event per document, even when the triggering request was a
// bulk operation.
type Event struct {
	Action      string // "beforeCreate", "afterCreate", "beforeUpdate", "afterUpdate", "beforeDelete", "afterDelete"
	ContentType string
	ContentID   string
	Locale      *string
	Data        json.RawMessage
	// Result is set on "after*" events to the value the CMS is about
	// to return to its caller; the interceptor may read it but must
	// not block on mutating it.
	Result json.RawMessage
}

// Interceptor is implemented by component L and registered with the
// CMS's document-middleware/lifecycle-hook registration point.
type Interceptor interface {
	Handle(ctx context.Context, event Event) error
}

// ContentStore is the read/write surface the interceptor needs back
// from the CMS: resolving a document's canonical id and fetching or
// replacing its current persisted value, independent of whatever
// storage engine backs the CMS itself.
type ContentStore interface {
	ResolveDocumentID(ctx context.Context, contentType string, raw json.RawMessage) (string, error)
	Get(ctx context.Context, contentType, contentID string) (json.RawMessage, error)
	Replace(ctx context.Context, contentType, contentID string, data json.RawMessage) error
}

// FileStore is the CMS's file-table surface component K needs on the
// master side to turn a replica's pushed FileRecord into a row the
// CMS itself recognizes: look the object up by its content hash
// (already mirrored once, or created by a different replica), or
// create a new one and return its master-side id.
type FileStore interface {
	FindByHash(ctx context.Context, hash string) (masterID string, found bool, err error)
	Create(ctx context.Context, record types.FileRecord) (masterID string, err error)
}
