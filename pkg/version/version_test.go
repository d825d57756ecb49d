package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oceanreach/offlinesync/pkg/store"
	"github.com/oceanreach/offlinesync/pkg/types"
)

func TestCheck_NewContentItemAccepted(t *testing.T) {
	local := (*store.SyncMetadata)(nil)
	_ = local
	assert.Equal(t, Accept, decideForTest(nil, 1, "ship-1"))
}

func TestCheck_StaleVersionRejected(t *testing.T) {
	local := &store.SyncMetadata{SyncVersion: 5, ModifiedByLocation: "ship-1"}
	assert.Equal(t, Stale, decideForTest(local, 5, "ship-1"))
	assert.Equal(t, Stale, decideForTest(local, 3, "ship-1"))
}

func TestCheck_SameOriginContinuationAccepted(t *testing.T) {
	local := &store.SyncMetadata{SyncVersion: 5, ModifiedByLocation: "ship-1"}
	assert.Equal(t, Accept, decideForTest(local, 6, "ship-1"))
	assert.Equal(t, Accept, decideForTest(local, 9, "ship-1"))
}

func TestCheck_ImmediateSuccessorFromOtherLocationAccepted(t *testing.T) {
	local := &store.SyncMetadata{SyncVersion: 5, ModifiedByLocation: "ship-1"}
	assert.Equal(t, Accept, decideForTest(local, 6, "ship-2"))
}

func TestCheck_DivergentOriginConflict(t *testing.T) {
	local := &store.SyncMetadata{SyncVersion: 5, ModifiedByLocation: "ship-1"}
	assert.Equal(t, Conflict, decideForTest(local, 7, "ship-2"))
}

func TestCheck_EqualVersionDifferentLocationConflict(t *testing.T) {
	local := &store.SyncMetadata{SyncVersion: 3, ModifiedByLocation: "ship-1"}
	assert.Equal(t, Conflict, decideForTest(local, 3, "ship-2"))
}

func TestCheck_EqualVersionSameLocationStale(t *testing.T) {
	local := &store.SyncMetadata{SyncVersion: 3, ModifiedByLocation: "ship-1"}
	assert.Equal(t, Stale, decideForTest(local, 3, "ship-1"))
}

// decideForTest mirrors Tracker.Check's decision logic against an
// in-memory SyncMetadata without a repository, since the comparison
// itself has no I/O.
func decideForTest(local *store.SyncMetadata, incomingVersion uint64, incomingLocation string) Decision {
	if local == nil {
		return Accept
	}
	if incomingVersion < local.SyncVersion {
		return Stale
	}
	if incomingVersion == local.SyncVersion {
		if local.ModifiedByLocation == incomingLocation {
			return Stale
		}
		return Conflict
	}
	if local.ModifiedByLocation == incomingLocation || incomingVersion == local.SyncVersion+1 {
		return Accept
	}
	return Conflict
}

func TestMarkSyncedRowShape(t *testing.T) {
	msg := &types.SyncMessage{
		ContentType: "article",
		ContentID:   "abc-1",
		Version:     3,
		Timestamp:   time.Now(),
	}
	row := &store.SyncMetadata{
		ContentType:        msg.ContentType,
		ContentID:          msg.ContentID,
		SyncVersion:        msg.Version,
		ModifiedByLocation: "master",
	}
	assert.Equal(t, uint64(3), row.SyncVersion)
	assert.False(t, row.ConflictFlag)
}
