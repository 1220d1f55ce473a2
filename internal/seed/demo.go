package seed

import (
	"time"

	"github.com/OCAP2/fleetsim/pkg/core"
)

func at(clock string) time.Time {
	t, err := time.Parse(time.DateTime, "2024-01-15 "+clock)
	if err != nil {
		panic(err)
	}
	return t
}

func point(id uint64, lat, lng float64, clock string, speed float64, status core.Status) core.HistoryPoint {
	return core.HistoryPoint{
		ID:        id,
		Position:  core.Position{Lat: lat, Lng: lng},
		Timestamp: at(clock),
		Speed:     speed,
		Status:    status,
	}
}

// Demo returns the built-in demonstration fleet around Manhattan.
// History point ids are unique across the whole fleet.
func Demo() *Fleet {
	return &Fleet{
		entities: []core.Entity{
			{ID: 1, Name: "Vehicle Alpha", Position: core.Position{Lat: 40.7128, Lng: -74.0060}, Status: core.StatusActive, Battery: 85, Speed: 45},
			{ID: 2, Name: "Delivery Truck B", Position: core.Position{Lat: 40.7589, Lng: -73.9851}, Status: core.StatusActive, Battery: 72, Speed: 32},
			{ID: 3, Name: "Service Van C", Position: core.Position{Lat: 40.7282, Lng: -73.7949}, Status: core.StatusInactive, Battery: 45, Speed: 0},
		},
		history: map[int][]core.HistoryPoint{
			1: {
				point(1, 40.7128, -74.006, "08:00:00", 25, core.StatusActive),
				point(2, 40.713, -74.0058, "08:15:00", 30, core.StatusActive),
				point(3, 40.7135, -74.0055, "08:30:00", 35, core.StatusActive),
			},
			2: {
				point(4, 40.7589, -73.9851, "08:00:00", 20, core.StatusActive),
				point(5, 40.7585, -73.9848, "08:20:00", 28, core.StatusActive),
				point(6, 40.758, -73.9845, "08:40:00", 32, core.StatusActive),
			},
			3: {
				point(7, 40.7282, -73.7949, "07:30:00", 15, core.StatusActive),
				point(8, 40.728, -73.795, "07:45:00", 0, core.StatusInactive),
			},
		},
		fences: []core.GeoFence{
			{ID: 1, Name: "Downtown Zone", Center: core.Position{Lat: 40.7128, Lng: -74.0060}, Radius: 500, Active: true},
			{ID: 2, Name: "Warehouse Area", Center: core.Position{Lat: 40.7589, Lng: -73.9851}, Radius: 300, Active: true},
		},
		alerts: []core.Alert{
			{ID: 1, Type: core.AlertGeofence, Message: "Vehicle Alpha exited Downtown Zone", Time: "2 min ago", Severity: core.SeverityWarning},
			{ID: 2, Type: core.AlertSpeed, Message: "Delivery Truck B exceeded speed limit", Time: "5 min ago", Severity: core.SeverityDanger},
			{ID: 3, Type: core.AlertBattery, Message: "Service Van C low battery warning", Time: "10 min ago", Severity: core.SeverityInfo},
		},
	}
}
