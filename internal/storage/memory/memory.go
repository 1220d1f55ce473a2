package memory

import (
	"sync"
	"time"

	"github.com/OCAP2/fleetsim/internal/config"
	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/google/uuid"
)

// DeviceRecord groups a device with its per-tick samples.
type DeviceRecord struct {
	Entity  core.Entity
	Samples []Sample
}

// Sample is a device's state after one tick.
type Sample struct {
	Tick     uint64
	Time     time.Time
	Position core.Position
	Speed    float64
	Battery  float64
	Status   core.Status
}

// WaypointEvent is a manual add or a delete, in the order they happened.
type WaypointEvent struct {
	Kind     core.UpdateKind
	Tick     uint64
	EntityID int
	PointID  uint64
	Point    *core.HistoryPoint
}

// Backend keeps session data in memory and exports it to JSON at session end
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session
	ended   time.Time

	devices map[int]*DeviceRecord
	order   []int
	latest  *core.Snapshot
	events  []WaypointEvent

	lastExportPath string
	lastExportMeta core.UploadMetadata
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		devices: make(map[int]*DeviceRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording. A session without an id gets a random one.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	session := *s
	b.session = &session
	b.ended = time.Time{}

	b.devices = make(map[int]*DeviceRecord)
	b.order = nil
	b.events = nil
	b.latest = nil
	b.lastExportPath = ""
	b.lastExportMeta = core.UploadMetadata{}

	b.trackLocked(s.Initial.Entities)
	if len(s.Initial.Entities) > 0 {
		initial := s.Initial
		b.latest = &initial
	}
	return nil
}

// EndSession finalizes and exports the session data
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	b.ended = time.Now()
	return b.exportJSON()
}

// trackLocked registers entities not seen before, keeping first-seen order.
func (b *Backend) trackLocked(entities []core.Entity) {
	for _, e := range entities {
		if rec, ok := b.devices[e.ID]; ok {
			rec.Entity = e
			continue
		}
		b.devices[e.ID] = &DeviceRecord{Entity: e}
		b.order = append(b.order, e.ID)
	}
}

// RecordTick stores one sample per entity and keeps the snapshot as the latest state.
func (b *Backend) RecordTick(s *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trackLocked(s.Entities)
	for _, e := range s.Entities {
		rec := b.devices[e.ID]
		rec.Samples = append(rec.Samples, Sample{
			Tick:     s.Tick,
			Time:     s.Time,
			Position: e.Position,
			Speed:    e.Speed,
			Battery:  e.Battery,
			Status:   e.Status,
		})
	}
	snap := *s
	b.latest = &snap
	return nil
}

// RecordWaypoint logs a manual waypoint.
func (b *Backend) RecordWaypoint(entityID int, p *core.HistoryPoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	point := *p
	b.events = append(b.events, WaypointEvent{
		Kind:     core.UpdateWaypointAdded,
		Tick:     b.tickLocked(),
		EntityID: entityID,
		PointID:  p.ID,
		Point:    &point,
	})
	return nil
}

// DeleteWaypoint logs a waypoint removal.
func (b *Backend) DeleteWaypoint(entityID int, pointID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, WaypointEvent{
		Kind:     core.UpdateWaypointDeleted,
		Tick:     b.tickLocked(),
		EntityID: entityID,
		PointID:  pointID,
	})
	return nil
}

func (b *Backend) tickLocked() uint64 {
	if b.latest == nil {
		return 0
	}
	return b.latest.Tick
}

// GetDevice returns a copy of the device record for id.
func (b *Backend) GetDevice(id int) (DeviceRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.devices[id]
	if !ok {
		return DeviceRecord{}, false
	}
	out := DeviceRecord{Entity: rec.Entity, Samples: make([]Sample, len(rec.Samples))}
	copy(out.Samples, rec.Samples)
	return out, true
}

// Events returns a copy of the waypoint log.
func (b *Backend) Events() []WaypointEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]WaypointEvent, len(b.events))
	copy(out, b.events)
	return out
}

// GetExportedFilePath returns the path of the last export, empty before EndSession.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata describes the last export.
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportMeta
}
