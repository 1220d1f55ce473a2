// pkg/core/history.go
package core

import "time"

// HistoryPoint is one recorded position of an entity.
// Points are append-only: once created they are never modified, only evicted or deleted.
type HistoryPoint struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name,omitempty"` // set for manual waypoints
	Position  Position  `json:"position"`
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`
	Status    Status    `json:"status"`
}

// WaypointInput is a manual waypoint as entered in a form.
// Coordinates arrive as text and are parsed by the engine.
type WaypointInput struct {
	Name string `json:"name" form:"name"`
	Lat  string `json:"lat" form:"lat"`
	Lng  string `json:"lng" form:"lng"`
}

// CloneHistory returns a deep copy of a history sequence.
// The result is never nil.
func CloneHistory(points []HistoryPoint) []HistoryPoint {
	out := make([]HistoryPoint, len(points))
	copy(out, points)
	return out
}
