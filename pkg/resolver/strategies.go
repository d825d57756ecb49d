package resolver

import (
	"encoding/json"
	"fmt"
)

// AutoMergeStrategy resolves a conflict automatically when the two
// sides touched disjoint sets of non-reserved fields: it takes each
// field from whichever side changed it, and keeps the rest from the
// local payload. It declines (CanResolve returns false, matching the
// teacher's resolver-selection pattern) whenever both sides touched
// the same field, since that requires a human decision about intent.
type AutoMergeStrategy struct{}

func NewAutoMergeStrategy() *AutoMergeStrategy { return &AutoMergeStrategy{} }

func (s *AutoMergeStrategy) Name() string { return "auto_merge" }

func (s *AutoMergeStrategy) CanResolve(c *Conflict) bool {
	if c.Diff == nil || len(c.Diff.Fields) == 0 {
		return true // no real divergence beyond metadata
	}
	for _, field := range c.Diff.Fields {
		_, inLocal := c.Diff.Local[field]
		_, inRemote := c.Diff.Remote[field]
		if inLocal && inRemote {
			// Both sides set this field to something; merging would
			// silently discard one side's intent.
			return false
		}
	}
	return true
}

func (s *AutoMergeStrategy) Resolve(c *Conflict) (*Outcome, error) {
	merged := map[string]json.RawMessage{}
	for k, v := range c.Diff.Local {
		merged[k] = v
	}
	for k, v := range c.Diff.Remote {
		if _, inLocal := c.Diff.Local[k]; !inLocal {
			merged[k] = v
		}
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("auto_merge: marshal merged payload: %w", err)
	}
	return &Outcome{Resolved: true, Merged: payload, Resolution: "merged"}, nil
}

// LastWriterWinsStrategy always resolves a conflict by keeping
// whichever side has the later updated-at timestamp. It is an
// explicit opt-in (config sync.conflictStrategy: last_writer_wins)
// since it silently discards the losing side's edit.
type LastWriterWinsStrategy struct{}

func NewLastWriterWinsStrategy() *LastWriterWinsStrategy { return &LastWriterWinsStrategy{} }

func (s *LastWriterWinsStrategy) Name() string { return "last_writer_wins" }

func (s *LastWriterWinsStrategy) CanResolve(c *Conflict) bool { return true }

func (s *LastWriterWinsStrategy) Resolve(c *Conflict) (*Outcome, error) {
	if c.IncomingUpdatedAt.After(c.LocalUpdatedAt) {
		return &Outcome{Resolved: true, Merged: c.IncomingPayload, Resolution: "incoming"}, nil
	}
	return &Outcome{Resolved: true, Merged: c.LocalPayload, Resolution: "local"}, nil
}

// ManualResolution applies an operator's explicit choice from the
// management API's /sync/conflicts/:id/resolve endpoint: keep the
// local payload, keep the incoming payload, or substitute an
// operator-edited payload entirely.
func ManualResolution(choice string, c *Conflict, edited json.RawMessage) (*Outcome, error) {
	switch choice {
	case "local":
		return &Outcome{Resolved: true, Merged: c.LocalPayload, Resolution: "local"}, nil
	case "incoming":
		return &Outcome{Resolved: true, Merged: c.IncomingPayload, Resolution: "incoming"}, nil
	case "manual-edit":
		if len(edited) == 0 {
			return nil, fmt.Errorf("resolver: manual-edit resolution requires a payload")
		}
		return &Outcome{Resolved: true, Merged: edited, Resolution: "manual-edit"}, nil
	default:
		return nil, fmt.Errorf("resolver: unknown manual resolution %q", choice)
	}
}
