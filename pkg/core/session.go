package core

import "time"

// Session describes one recording run of the engine.
type Session struct {
	ID           string        `json:"id"`
	StartTime    time.Time     `json:"startTime"`
	Interval     time.Duration `json:"interval"`
	HistoryLimit int           `json:"historyLimit"`
	// Initial is the engine state when recording began.
	Initial Snapshot `json:"initial"`
}

// UploadMetadata describes an exported recording.
type UploadMetadata struct {
	SessionID     string        `json:"sessionId"`
	StartTime     time.Time     `json:"startTime"`
	Duration      time.Duration `json:"duration"`
	Ticks         uint64        `json:"ticks"`
	Devices       int           `json:"devices"`
	HistoryPoints int           `json:"historyPoints"`
	Tag           string        `json:"tag"`
}
