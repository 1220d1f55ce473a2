package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Session{},
	&Device{},
	&DeviceState{},
	&Waypoint{},
	&TickRecord{},
	&FleetPerformance{},
}

////////////////////////
// SESSION MODELS
////////////////////////

// Session is one run of the simulator. Every other row belongs to a session.
type Session struct {
	ID           uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	UUID         string    `json:"uuid" gorm:"size:36;uniqueIndex:idx_session_uuid"`
	StartTime    time.Time `json:"startTime" gorm:"type:timestamptz;index:idx_session_start"`
	EndTime      time.Time `json:"endTime" gorm:"type:timestamptz"`
	IntervalMs   int64     `json:"intervalMs"`
	HistoryLimit int       `json:"historyLimit"`
	Ticks        uint64    `json:"ticks"`
}

func (*Session) TableName() string {
	return "sessions"
}

// FleetPerformance is a periodic sample of recorder health, written by the monitor
type FleetPerformance struct {
	Time                time.Time `json:"time" gorm:"type:timestamptz;index:idx_time"`
	SessionID           uint      `json:"sessionId" gorm:"index:idx_fleetperformance_session_id"`
	Session             Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Ticks               uint64    `json:"ticks"`
	ActiveDevices       int       `json:"activeDevices"`
	HistoryPoints       int       `json:"historyPoints"`
	WriteQueueLength    int       `json:"writeQueueLength"`
	LastWriteDurationMs float32   `json:"lastWriteDurationMs"`
}

func (*FleetPerformance) TableName() string {
	return "fleet_performances"
}

////////////////////////
// FLEET MODELS
////////////////////////

// Device is a roster entry as it was first seen in a session
type Device struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID uint      `json:"sessionId" gorm:"uniqueIndex:idx_device_session_object"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	ObjectID  int       `json:"deviceId" gorm:"uniqueIndex:idx_device_session_object"` // roster id
	Name      string    `json:"name" gorm:"size:128"`
	FirstSeen time.Time `json:"firstSeen" gorm:"type:timestamptz"`
}

func (*Device) TableName() string {
	return "devices"
}

// DeviceState is a device's position and telemetry after one tick
type DeviceState struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_devicestate_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint64    `json:"tick" gorm:"index:idx_devicestate_tick"`
	ObjectID  int       `json:"deviceId" gorm:"index:idx_devicestate_object_id"`

	Lat      float64    `json:"lat"`
	Lng      float64    `json:"lng"`
	Position geom.Point `json:"position"` // EPSG:3857
	Status   string     `json:"status" gorm:"size:16"`
	Speed    float64    `json:"speed"`
	Battery  float64    `json:"battery"`
}

func (*DeviceState) TableName() string {
	return "device_states"
}

// Waypoint is one history point. Deleted points keep their row with Deleted set.
type Waypoint struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_waypoint_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	ObjectID  int       `json:"deviceId" gorm:"index:idx_waypoint_object_id"`
	PointID   uint64    `json:"pointId" gorm:"index:idx_waypoint_point_id"`

	Name     string     `json:"name" gorm:"size:128"`
	Lat      float64    `json:"lat"`
	Lng      float64    `json:"lng"`
	Position geom.Point `json:"position"` // EPSG:3857
	Speed    float64    `json:"speed"`
	Status   string     `json:"status" gorm:"size:16"`
	Deleted  bool       `json:"deleted" gorm:"default:false"`
}

func (*Waypoint) TableName() string {
	return "waypoints"
}

// TickRecord keeps the aggregate numbers and the full snapshot of one tick
type TickRecord struct {
	ID            uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time          time.Time      `json:"time" gorm:"type:timestamptz;index:idx_tickrecord_time"`
	SessionID     uint           `json:"sessionId" gorm:"index:idx_tickrecord_session_id"`
	Session       Session        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick          uint64         `json:"tick"`
	ActiveDevices int            `json:"activeDevices"`
	HistoryPoints int            `json:"historyPoints"`
	Snapshot      datatypes.JSON `json:"snapshot"`
}

func (*TickRecord) TableName() string {
	return "tick_records"
}
