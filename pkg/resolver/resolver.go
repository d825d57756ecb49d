// Package resolver implements component F: the field-level structural
// diff between a local and an incoming payload, and the pluggable
// conflict-resolution strategies applied once component A's version
// check reports a conflict. The strategy interface mirrors the
// version-based resolver shape this codebase already uses for model
// conflicts, generalized from whole-object semantic-version
// comparison to field-level content diffing.
package resolver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oceanreach/offlinesync/pkg/types"
)

// Kind classifies how the differing fields of a Diff collided.
// KindStructural takes priority over KindDirect/KindIndirect: a field
// that only one side holds means the payload shape itself changed
// (the entity was created, deleted, or restructured on one side), and
// that dominates any same-field value collision.
type Kind string

const (
	// KindDirect is a single field both sides hold but disagree on —
	// the canonical same-field-edited-differently collision.
	KindDirect Kind = "direct"
	// KindIndirect is two or more fields both sides hold but disagree
	// on — harder to treat as one clean collision, still needs a
	// human's sign-off rather than a blind field-by-field merge.
	KindIndirect Kind = "indirect"
	// KindStructural is at least one differing field present on only
	// one side: an add, a remove, or a delete racing an update.
	KindStructural Kind = "structural"
)

// Diff is the set of top-level field names that differ between two
// JSON objects, with reserved sync-metadata fields excluded.
type Diff struct {
	Fields []string
	Local  map[string]json.RawMessage
	Remote map[string]json.RawMessage
	Kind   Kind
}

// Compare decodes two JSON objects and returns the fields that
// differ. Fields present in one payload but not the other count as
// differing. A payload that is not a JSON object makes Compare return
// an error.
func Compare(local, remote json.RawMessage) (*Diff, error) {
	localFields, err := decodeObject(local)
	if err != nil {
		return nil, fmt.Errorf("resolver: decode local payload: %w", err)
	}
	remoteFields, err := decodeObject(remote)
	if err != nil {
		return nil, fmt.Errorf("resolver: decode remote payload: %w", err)
	}

	diff := &Diff{Local: localFields, Remote: remoteFields}
	seen := map[string]bool{}
	bothSides := 0
	oneSideOnly := false
	for name, lv := range localFields {
		seen[name] = true
		if types.IsReservedField(name) {
			continue
		}
		rv, ok := remoteFields[name]
		if !ok {
			diff.Fields = append(diff.Fields, name)
			oneSideOnly = true
			continue
		}
		if !jsonEqual(lv, rv) {
			diff.Fields = append(diff.Fields, name)
			bothSides++
		}
	}
	for name := range remoteFields {
		if seen[name] || types.IsReservedField(name) {
			continue
		}
		diff.Fields = append(diff.Fields, name)
		oneSideOnly = true
	}

	switch {
	case oneSideOnly:
		diff.Kind = KindStructural
	case bothSides > 1:
		diff.Kind = KindIndirect
	default:
		diff.Kind = KindDirect
	}
	return diff, nil
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return string(a) == string(b)
	}
	return deepEqual(av, bv)
}

func deepEqual(a, b interface{}) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// Conflict carries everything a Strategy needs to decide how two
// divergent versions of a content item should be reconciled.
type Conflict struct {
	ContentType     string
	ContentID       string
	LocalVersion    uint64
	IncomingVersion uint64
	LocalPayload    json.RawMessage
	IncomingPayload json.RawMessage
	IncomingSource  types.Source
	LocalUpdatedAt  time.Time
	IncomingUpdatedAt time.Time
	Diff            *Diff
}

// Outcome is the result a Strategy produces for a Conflict.
type Outcome struct {
	// Resolved is false when the strategy declines to decide and the
	// conflict must be surfaced to a human via the management API.
	Resolved bool
	// Merged is the payload to apply when Resolved is true.
	Merged json.RawMessage
	// Resolution names which side won, or "merged", for the audit
	// trail and conflict log.
	Resolution string
}

// Strategy is a pluggable conflict-resolution algorithm. Multiple
// strategies can be registered; the first one whose CanResolve
// returns true handles the conflict.
type Strategy interface {
	Name() string
	CanResolve(c *Conflict) bool
	Resolve(c *Conflict) (*Outcome, error)
}

// Registry dispatches a Conflict to the first registered Strategy
// that claims it, falling back to surfacing it unresolved.
type Registry struct {
	strategies []Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// Resolve tries each registered strategy in order and returns the
// first outcome that resolves the conflict. If none do, it returns
// an unresolved Outcome for the caller to log and surface.
func (r *Registry) Resolve(c *Conflict) (*Outcome, error) {
	for _, s := range r.strategies {
		if !s.CanResolve(c) {
			continue
		}
		outcome, err := s.Resolve(c)
		if err != nil {
			return nil, fmt.Errorf("resolver: strategy %s: %w", s.Name(), err)
		}
		if outcome.Resolved {
			return outcome, nil
		}
	}
	return &Outcome{Resolved: false}, nil
}
