package storage

import (
	"time"

	"github.com/OCAP2/fleetsim/internal/model"
	"github.com/OCAP2/fleetsim/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	// State recording
	RecordTick(s *core.Snapshot) error
	RecordWaypoint(entityID int, p *core.HistoryPoint) error
	DeleteWaypoint(entityID int, pointID uint64) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to a recordings server.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}

// PerformanceRecorder is implemented by backends that persist monitor samples.
type PerformanceRecorder interface {
	RecordPerformance(p model.FleetPerformance) error
}

// QueueReporter is implemented by backends that buffer writes.
type QueueReporter interface {
	QueueLength() int
	LastWriteDuration() time.Duration
}
