package streaming

import (
	"encoding/json"

	"github.com/OCAP2/fleetsim/pkg/core"
)

// Message type constants for the live stream protocol.
const (
	TypeHello           = "hello"
	TypeTick            = "tick"
	TypeWaypointAdded   = "waypoint_added"
	TypeWaypointDeleted = "waypoint_deleted"
	TypeState           = "state"
	TypeSessionEnd      = "session_end"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// HelloPayload opens a session and carries the initial roster.
type HelloPayload struct {
	SessionID string         `json:"sessionId"`
	Snapshot  *core.Snapshot `json:"snapshot"`
}

// WaypointPayload carries a single history change.
type WaypointPayload struct {
	EntityID int                `json:"entityId"`
	PointID  uint64             `json:"pointId"`
	Point    *core.HistoryPoint `json:"point,omitempty"`
}

// TypeForUpdate maps an engine update kind to its stream message type.
func TypeForUpdate(kind core.UpdateKind) string {
	switch kind {
	case core.UpdateTick:
		return TypeTick
	case core.UpdateWaypointAdded:
		return TypeWaypointAdded
	case core.UpdateWaypointDeleted:
		return TypeWaypointDeleted
	default:
		return TypeState
	}
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}
