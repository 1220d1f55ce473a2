// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"time"

	"github.com/OCAP2/fleetsim/internal/geo"
	"github.com/OCAP2/fleetsim/internal/model"
	"github.com/OCAP2/fleetsim/pkg/core"
	"gorm.io/datatypes"
)

// snapshotToJSON converts a core.Snapshot to datatypes.JSON for DB storage.
func snapshotToJSON(s core.Snapshot) datatypes.JSON {
	data, err := json.Marshal(s)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}

// CoreToDevice converts a core.Entity to a GORM model.Device.
// core.Entity.ID maps to GORM Device.ObjectID.
func CoreToDevice(e core.Entity, seen time.Time) model.Device {
	return model.Device{
		ObjectID:  e.ID,
		Name:      e.Name,
		FirstSeen: seen,
	}
}

// CoreToDeviceState converts an entity as it was after a tick.
func CoreToDeviceState(e core.Entity, tick uint64, t time.Time) model.DeviceState {
	return model.DeviceState{
		Time:     t,
		Tick:     tick,
		ObjectID: e.ID,
		Lat:      e.Position.Lat,
		Lng:      e.Position.Lng,
		Position: geo.Point3857(e.Position),
		Status:   string(e.Status),
		Speed:    e.Speed,
		Battery:  e.Battery,
	}
}

// CoreToWaypoint converts a history point of the given entity.
func CoreToWaypoint(entityID int, p core.HistoryPoint) model.Waypoint {
	return model.Waypoint{
		Time:     p.Timestamp,
		ObjectID: entityID,
		PointID:  p.ID,
		Name:     p.Name,
		Lat:      p.Position.Lat,
		Lng:      p.Position.Lng,
		Position: geo.Point3857(p.Position),
		Speed:    p.Speed,
		Status:   string(p.Status),
	}
}

// CoreToTickRecord converts a tick snapshot. The full snapshot is kept as JSON.
func CoreToTickRecord(s core.Snapshot) model.TickRecord {
	return model.TickRecord{
		Time:          s.Time,
		Tick:          s.Tick,
		ActiveDevices: s.ActiveCount(),
		HistoryPoints: s.HistoryPoints(),
		Snapshot:      snapshotToJSON(s),
	}
}
