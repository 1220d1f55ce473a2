// pkg/core/fleet.go
package core

// GeoFence is a named circular zone. It is displayed next to entities but
// membership is never evaluated.
type GeoFence struct {
	ID     int      `json:"id"`
	Name   string   `json:"name"`
	Center Position `json:"center"`
	Radius float64  `json:"radius"` // meters
	Active bool     `json:"active"`
}

// Alert types
const (
	AlertGeofence = "geofence"
	AlertSpeed    = "speed"
	AlertBattery  = "battery"
)

// Alert severities
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityDanger  = "danger"
)

// Alert is a static notification shown on the dashboard.
type Alert struct {
	ID       int    `json:"id"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	Time     string `json:"time"` // display string, e.g. "2 min ago"
	Severity string `json:"severity"`
}
