// pkg/core/snapshot.go
package core

import "time"

// Snapshot is a point-in-time copy of engine state.
// Consumers own the snapshot; mutating it never affects the engine.
type Snapshot struct {
	Tick     uint64                 `json:"tick"`
	Time     time.Time              `json:"time"`
	Running  bool                   `json:"running"`
	Entities []Entity               `json:"entities"`
	History  map[int][]HistoryPoint `json:"history"`
}

// HistoryPoints returns the total number of history points across all entities.
func (s Snapshot) HistoryPoints() int {
	n := 0
	for _, h := range s.History {
		n += len(h)
	}
	return n
}

// ActiveCount returns the number of entities with status active.
func (s Snapshot) ActiveCount() int {
	n := 0
	for _, e := range s.Entities {
		if e.IsActive() {
			n++
		}
	}
	return n
}

// UpdateKind identifies what changed in an Update.
type UpdateKind string

const (
	UpdateTick            UpdateKind = "tick"
	UpdateWaypointAdded   UpdateKind = "waypoint_added"
	UpdateWaypointDeleted UpdateKind = "waypoint_deleted"
	UpdateState           UpdateKind = "state"
)

// Update is pushed to engine subscribers after every state change.
type Update struct {
	Kind     UpdateKind    `json:"kind"`
	EntityID int           `json:"entityId,omitempty"`
	Point    *HistoryPoint `json:"point,omitempty"`
	Snapshot Snapshot      `json:"snapshot"`
}

// Stats are the headline numbers shown on the dashboard.
type Stats struct {
	ActiveDevices int           `json:"activeDevices"`
	TotalDevices  int           `json:"totalDevices"`
	TotalAlerts   int           `json:"totalAlerts"`
	HistoryPoints int           `json:"historyPoints"`
	Ticks         uint64        `json:"ticks"`
	Running       bool          `json:"running"`
	Uptime        time.Duration `json:"uptime"`
}
