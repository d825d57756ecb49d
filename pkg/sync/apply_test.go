package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanreach/offlinesync/pkg/resolver"
	"github.com/oceanreach/offlinesync/pkg/store"
	"github.com/oceanreach/offlinesync/pkg/types"
)

func TestVersionOf_NilMetadataIsZero(t *testing.T) {
	assert.Equal(t, uint64(0), versionOf(nil))
}

func TestVersionOf_ReturnsSyncVersion(t *testing.T) {
	assert.Equal(t, uint64(7), versionOf(&store.SyncMetadata{SyncVersion: 7}))
}

func TestSourceForLocation_Master(t *testing.T) {
	assert.Equal(t, types.SourceMaster, sourceForLocation(types.MasterShipID))
}

func TestSourceForLocation_Ship(t *testing.T) {
	assert.Equal(t, types.SourceShip, sourceForLocation("ship-12"))
}

func TestConflictKindToStore(t *testing.T) {
	assert.Equal(t, store.ConflictKindDirect, conflictKindToStore(resolver.KindDirect))
	assert.Equal(t, store.ConflictKindIndirect, conflictKindToStore(resolver.KindIndirect))
	assert.Equal(t, store.ConflictKindStructural, conflictKindToStore(resolver.KindStructural))
}
