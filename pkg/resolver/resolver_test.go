package resolver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_DetectsChangedAndAddedFields(t *testing.T) {
	local := json.RawMessage(`{"title":"Old Title","body":"same","id":"1"}`)
	remote := json.RawMessage(`{"title":"New Title","body":"same","tags":["a"]}`)

	diff, err := Compare(local, remote)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"title", "tags"}, diff.Fields)
}

func TestCompare_IgnoresReservedFields(t *testing.T) {
	local := json.RawMessage(`{"title":"same","syncVersion":1,"updatedAt":"2026-01-01"}`)
	remote := json.RawMessage(`{"title":"same","syncVersion":2,"updatedAt":"2026-02-01"}`)

	diff, err := Compare(local, remote)
	require.NoError(t, err)
	assert.Empty(t, diff.Fields)
}

func TestCompare_SingleSharedFieldIsDirect(t *testing.T) {
	local := json.RawMessage(`{"title":"local title","body":"same"}`)
	remote := json.RawMessage(`{"title":"remote title","body":"same"}`)

	diff, err := Compare(local, remote)
	require.NoError(t, err)
	assert.Equal(t, KindDirect, diff.Kind)
}

func TestCompare_MultipleSharedFieldsAreIndirect(t *testing.T) {
	local := json.RawMessage(`{"title":"local title","body":"local body"}`)
	remote := json.RawMessage(`{"title":"remote title","body":"remote body"}`)

	diff, err := Compare(local, remote)
	require.NoError(t, err)
	assert.Equal(t, KindIndirect, diff.Kind)
}

func TestCompare_FieldPresentOnOneSideIsStructural(t *testing.T) {
	local := json.RawMessage(`{"title":"same"}`)
	remote := json.RawMessage(`{"title":"same","tags":["new"]}`)

	diff, err := Compare(local, remote)
	require.NoError(t, err)
	assert.Equal(t, KindStructural, diff.Kind)
}

func TestAutoMergeStrategy_DisjointFieldsResolves(t *testing.T) {
	local := json.RawMessage(`{"title":"kept","summary":"local edit"}`)
	remote := json.RawMessage(`{"title":"kept","tags":["new"]}`)
	diff, err := Compare(local, remote)
	require.NoError(t, err)

	c := &Conflict{LocalPayload: local, IncomingPayload: remote, Diff: diff}
	s := NewAutoMergeStrategy()
	require.True(t, s.CanResolve(c))

	outcome, err := s.Resolve(c)
	require.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.Equal(t, "merged", outcome.Resolution)

	var merged map[string]interface{}
	require.NoError(t, json.Unmarshal(outcome.Merged, &merged))
	assert.Equal(t, "local edit", merged["summary"])
	assert.Equal(t, []interface{}{"new"}, merged["tags"])
}

func TestAutoMergeStrategy_OverlappingFieldDeclines(t *testing.T) {
	local := json.RawMessage(`{"title":"local title"}`)
	remote := json.RawMessage(`{"title":"remote title"}`)
	diff, err := Compare(local, remote)
	require.NoError(t, err)

	c := &Conflict{Diff: diff}
	s := NewAutoMergeStrategy()
	assert.False(t, s.CanResolve(c))
}

func TestLastWriterWinsStrategy_PicksLaterTimestamp(t *testing.T) {
	now := time.Now()
	c := &Conflict{
		LocalPayload:      json.RawMessage(`{"v":"local"}`),
		IncomingPayload:   json.RawMessage(`{"v":"incoming"}`),
		LocalUpdatedAt:    now,
		IncomingUpdatedAt: now.Add(time.Minute),
	}
	s := NewLastWriterWinsStrategy()
	outcome, err := s.Resolve(c)
	require.NoError(t, err)
	assert.Equal(t, "incoming", outcome.Resolution)
}

func TestRegistry_FallsThroughToUnresolved(t *testing.T) {
	r := NewRegistry(NewAutoMergeStrategy())
	local := json.RawMessage(`{"title":"local"}`)
	remote := json.RawMessage(`{"title":"remote"}`)
	diff, err := Compare(local, remote)
	require.NoError(t, err)

	outcome, err := r.Resolve(&Conflict{Diff: diff, LocalPayload: local, IncomingPayload: remote})
	require.NoError(t, err)
	assert.False(t, outcome.Resolved)
}

func TestManualResolution_UnknownChoiceErrors(t *testing.T) {
	_, err := ManualResolution("bogus", &Conflict{}, nil)
	assert.Error(t, err)
}
