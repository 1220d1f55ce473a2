// Package gormstorage implements the storage.Backend interface using GORM
// with internal queues and a background DB writer goroutine. It serves both
// the postgres and sqlite storage types.
package gormstorage

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/fleetsim/internal/model"
	"github.com/OCAP2/fleetsim/internal/model/convert"
	"github.com/OCAP2/fleetsim/internal/queue"
	"github.com/OCAP2/fleetsim/pkg/core"

	"gorm.io/gorm"
)

// DefaultFlushInterval is how often queued rows are written.
const DefaultFlushInterval = 2 * time.Second

// writeBatchSize caps the rows inserted per transaction.
const writeBatchSize = 500

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

type waypointRef struct {
	entityID int
	pointID  uint64
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	DeviceStates *queue.Batch[model.DeviceState]
	Waypoints    *queue.Batch[model.Waypoint]
	Deletes      *queue.Batch[waypointRef]
	TickRecords  *queue.Batch[model.TickRecord]
	Performance  *queue.Batch[model.FleetPerformance]
}

func newQueues() *queues {
	return &queues{
		DeviceStates: queue.NewBatch[model.DeviceState](),
		Waypoints:    queue.NewBatch[model.Waypoint](),
		Deletes:      queue.NewBatch[waypointRef](),
		TickRecords:  queue.NewBatch[model.TickRecord](),
		Performance:  queue.NewBatch[model.FleetPerformance](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	queues    *queues
	sessionID atomic.Uint64
	lastTick  atomic.Uint64
	lastWrite atomic.Int64 // nanoseconds

	flushMu  sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// New creates a new GORM storage backend. The DB must already be open.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
	}
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database")
	}
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	b.deps.Logger.Info("Database schema ready", "dialect", b.deps.DB.Name())

	b.stopChan = make(chan struct{})
	b.startDBWriter()
	return nil
}

// Close stops the writer goroutine and flushes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil || b.closed {
		return nil
	}
	b.closed = true
	close(b.stopChan)
	b.wg.Wait()
	b.Flush()
	return nil
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// SessionID returns the database id of the current session, 0 before StartSession.
func (b *Backend) SessionID() uint {
	return uint(b.sessionID.Load())
}

// StartSession inserts the session and its devices synchronously so that
// queued rows can reference them.
func (b *Backend) StartSession(s *core.Session) error {
	row := model.Session{
		UUID:         s.ID,
		StartTime:    s.StartTime,
		IntervalMs:   s.Interval.Milliseconds(),
		HistoryLimit: s.HistoryLimit,
	}
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	b.sessionID.Store(uint64(row.ID))

	if len(s.Initial.Entities) > 0 {
		devices := make([]model.Device, 0, len(s.Initial.Entities))
		for _, e := range s.Initial.Entities {
			d := convert.CoreToDevice(e, s.StartTime)
			d.SessionID = row.ID
			devices = append(devices, d)
		}
		if err := b.deps.DB.Create(&devices).Error; err != nil {
			return fmt.Errorf("failed to insert devices: %w", err)
		}
	}

	// initial trails are recorded as waypoints so a session is self-contained
	for entityID, points := range s.Initial.History {
		for i := range points {
			b.queues.Waypoints.Push(convert.CoreToWaypoint(entityID, points[i]))
		}
	}

	b.deps.Logger.Info("Session started", "session", s.ID, "sessionId", row.ID, "devices", len(s.Initial.Entities))
	return nil
}

// EndSession flushes the queues and stamps the end time and tick count.
func (b *Backend) EndSession() error {
	id := b.SessionID()
	if id == 0 {
		return nil
	}
	b.Flush()

	err := b.deps.DB.Model(&model.Session{}).Where("id = ?", id).Updates(map[string]any{
		"end_time": time.Now(),
		"ticks":    b.lastTick.Load(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// RecordTick queues one state row per entity plus the tick record.
// Trail points produced by the tick are queued as waypoints.
func (b *Backend) RecordTick(s *core.Snapshot) error {
	b.lastTick.Store(s.Tick)
	for _, e := range s.Entities {
		b.queues.DeviceStates.Push(convert.CoreToDeviceState(e, s.Tick, s.Time))

		h := s.History[e.ID]
		if !e.IsActive() || len(h) == 0 {
			continue
		}
		last := h[len(h)-1]
		if last.Status == core.StatusActive && last.Timestamp.Equal(s.Time) {
			b.queues.Waypoints.Push(convert.CoreToWaypoint(e.ID, last))
		}
	}
	b.queues.TickRecords.Push(convert.CoreToTickRecord(*s))
	return nil
}

// RecordWaypoint queues a manual waypoint.
func (b *Backend) RecordWaypoint(entityID int, p *core.HistoryPoint) error {
	b.queues.Waypoints.Push(convert.CoreToWaypoint(entityID, *p))
	return nil
}

// DeleteWaypoint marks the waypoint as deleted once pending inserts are written.
func (b *Backend) DeleteWaypoint(entityID int, pointID uint64) error {
	b.queues.Deletes.Push(waypointRef{entityID: entityID, pointID: pointID})
	return nil
}

// RecordPerformance queues a monitor sample.
func (b *Backend) RecordPerformance(p model.FleetPerformance) error {
	b.queues.Performance.Push(p)
	return nil
}

// QueueLength is the number of rows waiting to be written.
func (b *Backend) QueueLength() int {
	return b.queues.DeviceStates.Len() +
		b.queues.Waypoints.Len() +
		b.queues.Deletes.Len() +
		b.queues.TickRecords.Len() +
		b.queues.Performance.Len()
}

// LastWriteDuration is how long the most recent flush took.
func (b *Backend) LastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// History returns the stored, non-deleted waypoints of an entity in insertion order.
func (b *Backend) History(entityID int) ([]core.HistoryPoint, error) {
	var rows []model.Waypoint
	err := b.deps.DB.
		Where("session_id = ? AND object_id = ? AND deleted = ?", b.SessionID(), entityID, false).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history for entity %d: %w", entityID, err)
	}

	out := make([]core.HistoryPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, convert.WaypointToCore(r))
	}
	return out, nil
}

// writeQueue drains q into the database, one transaction per batch. A failed
// batch goes back to the front of the queue and the drain stops until the
// next flush.
func writeQueue[T any](db *gorm.DB, q *queue.Batch[T], name string, log *slog.Logger, prepare func([]T)) {
	for {
		items := q.Take(writeBatchSize)
		if len(items) == 0 {
			return
		}
		if prepare != nil {
			prepare(items)
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			return tx.Create(&items).Error
		})
		if err != nil {
			log.Error("Error creating rows", "table", name, "count", len(items), "error", err)
			q.PushFront(items...)
			return
		}
	}
}

// Flush writes every queue to the database once.
func (b *Backend) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	db := b.deps.DB
	log := b.deps.Logger
	sessionID := b.SessionID()

	writeQueue(db, b.queues.DeviceStates, "device_states", log, func(items []model.DeviceState) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})
	writeQueue(db, b.queues.Waypoints, "waypoints", log, func(items []model.Waypoint) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})
	writeQueue(db, b.queues.TickRecords, "tick_records", log, func(items []model.TickRecord) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})
	writeQueue(db, b.queues.Performance, "fleet_performances", log, func(items []model.FleetPerformance) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})

	for _, ref := range b.queues.Deletes.Take(0) {
		err := db.Model(&model.Waypoint{}).
			Where("session_id = ? AND object_id = ? AND point_id = ?", sessionID, ref.entityID, ref.pointID).
			Update("deleted", true).Error
		if err != nil {
			log.Error("Error deleting waypoint", "entity", ref.entityID, "point", ref.pointID, "error", err)
		}
	}

	b.lastWrite.Store(int64(time.Since(start)))
}

// startDBWriter starts the background goroutine that periodically drains queues into the DB.
func (b *Backend) startDBWriter() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.deps.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-b.stopChan:
				return
			case <-ticker.C:
				b.Flush()
			}
		}
	}()
}
