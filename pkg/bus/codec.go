package bus

import (
	"encoding/json"
	"fmt"

	"github.com/oceanreach/offlinesync/pkg/types"
)

// encode marshals a SyncMessage to its wire representation.
func encode(msg *types.SyncMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// decode unmarshals and validates a SyncMessage off the wire.
func decode(payload []byte) (*types.SyncMessage, error) {
	var msg types.SyncMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("bus: unmarshal message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
