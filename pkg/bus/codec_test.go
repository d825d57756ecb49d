package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanreach/offlinesync/pkg/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := &types.SyncMessage{
		MessageID:   "ship-1-12345-abc",
		ShipID:      "ship-1",
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		Operation:   types.OpUpdate,
		ContentType: "article",
		ContentID:   "abc",
		Version:     2,
		Data:        json.RawMessage(`{"title":"hi"}`),
	}
	payload, err := encode(msg)
	require.NoError(t, err)

	decoded, err := decode(payload)
	require.NoError(t, err)
	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, msg.Version, decoded.Version)
	assert.JSONEq(t, string(msg.Data), string(decoded.Data))
}

func TestDecode_RejectsInvalidMessage(t *testing.T) {
	_, err := decode([]byte(`{"shipId":"ship-1"}`))
	assert.Error(t, err)
}

func TestDecode_AllowsHeartbeatWithoutData(t *testing.T) {
	msg := &types.SyncMessage{
		MessageID:   "ship-1-1-heartbeat",
		ShipID:      "ship-1",
		Operation:   types.OpUpdate,
		ContentType: types.HeartbeatContentType,
		ContentID:   "ship-1",
	}
	payload, err := encode(msg)
	require.NoError(t, err)
	decoded, err := decode(payload)
	require.NoError(t, err)
	assert.Equal(t, types.HeartbeatContentType, decoded.ContentType)
}
