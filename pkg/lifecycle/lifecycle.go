// Package lifecycle implements component L: the CMS document-level
// interceptor that turns local content mutations into outbound sync
// work, and does not re-capture the CMS writes the sync engine makes
// when it applies inbound sync messages. Loop prevention is scoped per-apply
// through a context.Context value carrying the Source that originated
// the current mutation, never a package-level boolean: concurrent
// applies for different content items (or the same item from two
// different origins in quick succession) must not interfere with
// each other's loop-prevention state.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oceanreach/offlinesync/internal/config"
	"github.com/oceanreach/offlinesync/pkg/cms"
	"github.com/oceanreach/offlinesync/pkg/media"
	"github.com/oceanreach/offlinesync/pkg/store"
	"github.com/oceanreach/offlinesync/pkg/types"
)

type sourceKey struct{}

// WithSource returns a context tagged with the Source that originated
// the mutation currently being applied. Handle consults this to skip
// re-enqueuing an update that was itself the result of applying a
// remote message.
func WithSource(ctx context.Context, source types.Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the Source tagged on ctx, defaulting to
// SourceLocal for a context that was never tagged (an ordinary CMS
// request from an editor, not a sync apply).
func SourceFrom(ctx context.Context) types.Source {
	if v, ok := ctx.Value(sourceKey{}).(types.Source); ok {
		return v
	}
	return types.SourceLocal
}

// EnqueueFunc is supplied by the sync engine: how a local mutation
// gets turned into outbound work, distinct for a replica (push to
// master) versus the master (broadcast to ships).
type EnqueueFunc func(ctx context.Context, contentType, contentID string, locale *string, op types.Operation, data json.RawMessage, version uint64) error

// Interceptor is component L, registered with the CMS as a
// cms.Interceptor.
type Interceptor struct {
	cfg       *config.Config
	content   cms.ContentStore
	mediaMir  *media.Mirror
	enqueue   EnqueueFunc
	audit     *store.AuditRepository
	debounce  *debouncer
	logger    *slog.Logger
}

// New constructs the interceptor. debouncePush is invoked at most
// once per debounce window regardless of how many content items
// changed, so a burst of edits results in one push cycle, not one per
// edit.
func New(cfg *config.Config, content cms.ContentStore, mediaMir *media.Mirror, enqueue EnqueueFunc, audit *store.AuditRepository, debouncePush func(ctx context.Context), logger *slog.Logger) *Interceptor {
	return &Interceptor{
		cfg:      cfg,
		content:  content,
		mediaMir: mediaMir,
		enqueue:  enqueue,
		audit:    audit,
		debounce: newDebouncer(cfg.Sync.DebounceMs, debouncePush),
		logger:   logger,
	}
}

// Handle implements cms.Interceptor. It is invoked for every document
// mutation the CMS performs, local or otherwise; bulk-operation
// results (Action prefixed with "bulk") are skipped entirely since
// the CMS already emits a per-document event for each affected row.
func (i *Interceptor) Handle(ctx context.Context, event cms.Event) error {
	if isBulkResult(event.Action) {
		return nil
	}
	if !i.cfg.ContentTypeAllowed(event.ContentType) {
		return nil
	}
	// A mutation applied by the sync engine (while processing an
	// inbound sync message) must not be re-captured as a new local
	// edit: that is exactly the loop this context tag exists to break.
	if SourceFrom(ctx) != types.SourceLocal {
		return nil
	}
	if !isAfterEvent(event.Action) {
		return nil
	}

	contentID, err := i.content.ResolveDocumentID(ctx, event.ContentType, event.Data)
	if err != nil {
		return fmt.Errorf("lifecycle: resolve document id: %w", err)
	}

	data := redactSensitiveFields(event.Data)

	op := operationFor(event.Action)

	fileIDs, err := media.ExtractFileIDs(data)
	if err != nil {
		i.logger.Warn("lifecycle: extract file ids failed", "contentType", event.ContentType, "contentId", contentID, "error", err)
	}

	i.audit.Record(ctx, string(op), event.ContentType, contentID, "local", store.JSONMap{
		"action":  event.Action,
		"fileIds": fileIDs,
	})

	if err := i.enqueue(ctx, event.ContentType, contentID, event.Locale, op, data, 0); err != nil {
		return fmt.Errorf("lifecycle: enqueue local mutation: %w", err)
	}

	i.debounce.trigger(ctx)
	return nil
}

func isBulkResult(action string) bool {
	return len(action) >= 4 && action[:4] == "bulk"
}

func isAfterEvent(action string) bool {
	return len(action) >= 5 && action[:5] == "after"
}

func operationFor(action string) types.Operation {
	switch {
	case contains(action, "Create"):
		return types.OpCreate
	case contains(action, "Delete"):
		return types.OpDelete
	case contains(action, "Publish"):
		return types.OpPublish
	default:
		return types.OpUpdate
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// sensitiveFields are stripped from any payload before it leaves the
// process boundary, regardless of direction.
var sensitiveFields = map[string]bool{
	"password":     true,
	"passwordHash": true,
	"apiKey":       true,
	"secret":       true,
	"token":        true,
}

// redactSensitiveFields walks a payload depth-bounded and removes any
// key in sensitiveFields, tolerant of the same structural shapes
// media.RewritePayloadURLs handles.
func redactSensitiveFields(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return payload
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return payload
	}
	redacted := redactWalk(v, 0)
	out, err := json.Marshal(redacted)
	if err != nil {
		return payload
	}
	return out
}

const maxRedactDepth = 32

func redactWalk(v interface{}, depth int) interface{} {
	if depth >= maxRedactDepth {
		return v
	}
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if sensitiveFields[k] {
				continue
			}
			out[k] = redactWalk(val, depth+1)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for idx, val := range t {
			out[idx] = redactWalk(val, depth+1)
		}
		return out
	default:
		return v
	}
}

// debouncer coalesces a burst of triggers into a single delayed call,
// the way the CMS's own middleware chain coalesces repeated work
// elsewhere in this codebase.
type debouncer struct {
	delay time.Duration
	fn    func(ctx context.Context)

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncer(delay time.Duration, fn func(ctx context.Context)) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fn(ctx) })
}
