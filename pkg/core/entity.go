// pkg/core/entity.go
package core

// Status is the tracking state of an entity or the origin of a history point.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	// StatusManual marks a user-entered waypoint. Only valid on history points.
	StatusManual Status = "manual"
)

// Valid reports whether s is a known entity status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Position is a WGS84 latitude/longitude pair in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Entity is a tracked vehicle or device.
// ID is the roster identifier and never changes for the lifetime of the engine.
type Entity struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Status   Status   `json:"status"`
	Speed    float64  `json:"speed"`   // mph, never negative
	Battery  float64  `json:"battery"` // percent, 0-100
}

// IsActive reports whether the entity collects history on each tick.
func (e Entity) IsActive() bool {
	return e.Status == StatusActive
}
