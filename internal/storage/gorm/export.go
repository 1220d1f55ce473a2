package gormstorage

import (
	"errors"
	"fmt"
	"sort"

	"github.com/OCAP2/fleetsim/internal/model"
	"github.com/OCAP2/fleetsim/internal/model/convert"
	"github.com/OCAP2/fleetsim/internal/storage/memory"
	"github.com/OCAP2/fleetsim/pkg/core"

	"gorm.io/gorm"
)

// ErrSessionNotFound is returned when no session has the requested uuid.
var ErrSessionNotFound = errors.New("session not found")

// ListSessions returns every recorded session, newest first.
func ListSessions(db *gorm.DB) ([]model.Session, error) {
	var sessions []model.Session
	if err := db.Order("start_time DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("error listing sessions: %w", err)
	}
	return sessions, nil
}

func findSession(db *gorm.DB, uuid string) (model.Session, error) {
	var session model.Session
	err := db.Where("uuid = ?", uuid).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session, fmt.Errorf("%w: %s", ErrSessionNotFound, uuid)
	}
	if err != nil {
		return session, fmt.Errorf("error getting session: %w", err)
	}
	return session, nil
}

// LoadExport rebuilds the JSON recording of a stored session, in the same
// layout the memory backend writes.
func LoadExport(db *gorm.DB, uuid string) (memory.FleetExport, *core.UploadMetadata, error) {
	session, err := findSession(db, uuid)
	if err != nil {
		return memory.FleetExport{}, nil, err
	}

	var devices []model.Device
	if err := db.Where("session_id = ?", session.ID).Order("object_id").Find(&devices).Error; err != nil {
		return memory.FleetExport{}, nil, fmt.Errorf("error getting devices: %w", err)
	}

	var states []model.DeviceState
	if err := db.Where("session_id = ?", session.ID).Order("tick, object_id").Find(&states).Error; err != nil {
		return memory.FleetExport{}, nil, fmt.Errorf("error getting device states: %w", err)
	}

	var ticks []model.TickRecord
	if err := db.Where("session_id = ?", session.ID).Order("tick").Find(&ticks).Error; err != nil {
		return memory.FleetExport{}, nil, fmt.Errorf("error getting tick records: %w", err)
	}

	var waypoints []model.Waypoint
	if err := db.Where("session_id = ?", session.ID).Order("id").Find(&waypoints).Error; err != nil {
		return memory.FleetExport{}, nil, fmt.Errorf("error getting waypoints: %w", err)
	}

	export := memory.FleetExport{
		SessionID:    session.UUID,
		StartTime:    memory.FormatTime(session.StartTime),
		EndTime:      memory.FormatTime(session.EndTime),
		IntervalMs:   session.IntervalMs,
		HistoryLimit: session.HistoryLimit,
		EndTick:      session.Ticks,
		Devices:      make([]memory.DeviceJSON, 0, len(devices)),
		Events:       [][]any{},
	}
	if len(ticks) > 0 && ticks[len(ticks)-1].Tick > export.EndTick {
		export.EndTick = ticks[len(ticks)-1].Tick
	}

	// the final trail is the one stored with the last tick; without ticks it
	// is rebuilt from the live waypoints
	trails := map[int][]core.HistoryPoint{}
	if len(ticks) > 0 {
		snap, err := convert.TickRecordToSnapshot(ticks[len(ticks)-1])
		if err != nil {
			return memory.FleetExport{}, nil, err
		}
		trails = snap.History
	} else {
		for _, w := range waypoints {
			if !w.Deleted {
				trails[w.ObjectID] = append(trails[w.ObjectID], convert.WaypointToCore(w))
			}
		}
	}

	byDevice := map[int][]model.DeviceState{}
	for _, s := range states {
		byDevice[s.ObjectID] = append(byDevice[s.ObjectID], s)
	}

	historyPoints := 0
	for _, d := range devices {
		device := memory.DeviceJSON{
			ID:        d.ObjectID,
			Name:      d.Name,
			Positions: make([][]any, 0, len(byDevice[d.ObjectID])),
			History:   []core.HistoryPoint{},
		}
		for _, s := range byDevice[d.ObjectID] {
			device.Positions = append(device.Positions, []any{
				s.Tick, s.Lat, s.Lng, s.Speed, s.Battery, core.Status(s.Status),
			})
			device.Status = core.Status(s.Status)
		}
		if h, ok := trails[d.ObjectID]; ok {
			device.History = core.CloneHistory(h)
			historyPoints += len(h)
		}
		export.Devices = append(export.Devices, device)
	}

	export.Events = waypointEvents(waypoints, ticks)

	meta := &core.UploadMetadata{
		SessionID:     session.UUID,
		StartTime:     session.StartTime,
		Duration:      session.EndTime.Sub(session.StartTime),
		Ticks:         export.EndTick,
		Devices:       len(export.Devices),
		HistoryPoints: historyPoints,
	}
	if session.EndTime.IsZero() {
		meta.Duration = 0
	}
	return export, meta, nil
}

// waypointEvents lists manual additions and deletions as
// [tick, kind, entityId, pointId, name?]. The tick is the last one recorded
// at or before the waypoint time.
func waypointEvents(waypoints []model.Waypoint, ticks []model.TickRecord) [][]any {
	tickAt := func(w model.Waypoint) uint64 {
		i := sort.Search(len(ticks), func(i int) bool { return ticks[i].Time.After(w.Time) })
		if i == 0 {
			return 0
		}
		return ticks[i-1].Tick
	}

	events := [][]any{}
	for _, w := range waypoints {
		if core.Status(w.Status) == core.StatusManual {
			events = append(events, []any{tickAt(w), string(core.UpdateWaypointAdded), w.ObjectID, w.PointID, w.Name})
		}
		if w.Deleted {
			events = append(events, []any{tickAt(w), string(core.UpdateWaypointDeleted), w.ObjectID, w.PointID})
		}
	}
	return events
}

// ReduceResult counts the rows removed by Reduce.
type ReduceResult struct {
	DeviceStates int64
	Waypoints    int64
}

// Reduce thins a stored session: only every keepEvery-th tick keeps its
// device states, and soft-deleted waypoints are removed for good.
func Reduce(db *gorm.DB, uuid string, keepEvery int) (ReduceResult, error) {
	var res ReduceResult
	if keepEvery < 1 {
		return res, fmt.Errorf("keepEvery must be at least 1, got %d", keepEvery)
	}
	session, err := findSession(db, uuid)
	if err != nil {
		return res, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if keepEvery > 1 {
			q := tx.Where("session_id = ? AND tick % ? <> 0", session.ID, keepEvery).Delete(&model.DeviceState{})
			if q.Error != nil {
				return fmt.Errorf("error deleting device states: %w", q.Error)
			}
			res.DeviceStates = q.RowsAffected
		}
		q := tx.Where("session_id = ? AND deleted = ?", session.ID, true).Delete(&model.Waypoint{})
		if q.Error != nil {
			return fmt.Errorf("error deleting waypoints: %w", q.Error)
		}
		res.Waypoints = q.RowsAffected
		return nil
	})
	return res, err
}
