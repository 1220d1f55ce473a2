package convert

import (
	"encoding/json"
	"fmt"

	"github.com/OCAP2/fleetsim/internal/model"
	"github.com/OCAP2/fleetsim/pkg/core"
)

// WaypointToCore converts a GORM Waypoint to a core.HistoryPoint.
// The stored lat/lng are authoritative; the projected position is derived.
func WaypointToCore(w model.Waypoint) core.HistoryPoint {
	return core.HistoryPoint{
		ID:        w.PointID,
		Name:      w.Name,
		Position:  core.Position{Lat: w.Lat, Lng: w.Lng},
		Timestamp: w.Time,
		Speed:     w.Speed,
		Status:    core.Status(w.Status),
	}
}

// DeviceStateToCore rebuilds the entity as recorded in a device state row.
// The name is not stored per state and is left empty.
func DeviceStateToCore(s model.DeviceState) core.Entity {
	return core.Entity{
		ID:       s.ObjectID,
		Position: core.Position{Lat: s.Lat, Lng: s.Lng},
		Status:   core.Status(s.Status),
		Speed:    s.Speed,
		Battery:  s.Battery,
	}
}

// TickRecordToSnapshot decodes the snapshot stored with a tick record.
func TickRecordToSnapshot(r model.TickRecord) (core.Snapshot, error) {
	var s core.Snapshot
	if err := json.Unmarshal(r.Snapshot, &s); err != nil {
		return core.Snapshot{}, fmt.Errorf("decode tick %d snapshot: %w", r.Tick, err)
	}
	return s, nil
}
