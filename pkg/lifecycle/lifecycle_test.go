package lifecycle

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanreach/offlinesync/pkg/types"
)

func TestSourceFrom_DefaultsToLocal(t *testing.T) {
	assert.Equal(t, types.SourceLocal, SourceFrom(context.Background()))
}

func TestWithSource_RoundTrips(t *testing.T) {
	ctx := WithSource(context.Background(), types.SourceMaster)
	assert.Equal(t, types.SourceMaster, SourceFrom(ctx))
}

func TestIsBulkResult(t *testing.T) {
	assert.True(t, isBulkResult("bulkUpdate"))
	assert.False(t, isBulkResult("afterUpdate"))
}

func TestIsAfterEvent(t *testing.T) {
	assert.True(t, isAfterEvent("afterCreate"))
	assert.False(t, isAfterEvent("beforeCreate"))
}

func TestOperationFor(t *testing.T) {
	assert.Equal(t, types.OpCreate, operationFor("afterCreate"))
	assert.Equal(t, types.OpDelete, operationFor("afterDelete"))
	assert.Equal(t, types.OpPublish, operationFor("afterPublish"))
	assert.Equal(t, types.OpUpdate, operationFor("afterUpdate"))
}

func TestRedactSensitiveFields_RemovesKnownKeys(t *testing.T) {
	payload := json.RawMessage(`{"title":"hi","password":"secret","nested":{"apiKey":"xyz","ok":"keep"}}`)
	redacted := redactSensitiveFields(payload)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(redacted, &m))
	assert.Equal(t, "hi", m["title"])
	_, hasPassword := m["password"]
	assert.False(t, hasPassword)
	nested := m["nested"].(map[string]interface{})
	_, hasAPIKey := nested["apiKey"]
	assert.False(t, hasAPIKey)
	assert.Equal(t, "keep", nested["ok"])
}
