// Package handlers implements the dispatcher commands that drive the
// simulation: run control, manual waypoints and stats.
package handlers

import (
	"fmt"
	"log/slog"

	"github.com/OCAP2/fleetsim/internal/dispatcher"
	"github.com/OCAP2/fleetsim/internal/util"
	"github.com/OCAP2/fleetsim/pkg/core"
)

// Command names
const (
	CmdSimStart       = ":SIM:START:"
	CmdSimStop        = ":SIM:STOP:"
	CmdSimTick        = ":SIM:TICK:"
	CmdWaypointAdd    = ":WAYPOINT:ADD:"
	CmdWaypointDelete = ":WAYPOINT:DELETE:"
	CmdStats          = ":STATS:"
)

// Engine is the part of sim.Engine the handlers drive.
type Engine interface {
	Start()
	Stop()
	Tick()
	Running() bool
	Snapshot() core.Snapshot
	AddManualWaypoint(entityID int, in core.WaypointInput) (core.HistoryPoint, error)
	DeleteWaypoint(entityID int, pointID uint64) bool
}

// StatsSource computes dashboard stats. Implemented by monitor.Service.
type StatsSource interface {
	Stats() core.Stats
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Engine Engine
	Stats  StatsSource
	Logger *slog.Logger
}

// SimState is returned by the run control commands.
type SimState struct {
	Running bool   `json:"running"`
	Tick    uint64 `json:"tick"`
}

// DeleteResult is returned by :WAYPOINT:DELETE:.
type DeleteResult struct {
	EntityID int    `json:"entityId"`
	PointID  uint64 `json:"pointId"`
	Deleted  bool   `json:"deleted"`
}

// Service provides handler methods for dispatcher commands
type Service struct {
	deps Dependencies
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{deps: deps}
}

// Register adds every command to d. Commands run synchronously so callers
// get the result back.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	d.Register(CmdSimStart, s.SimStart, dispatcher.Logged())
	d.Register(CmdSimStop, s.SimStop, dispatcher.Logged())
	d.Register(CmdSimTick, s.SimTick, dispatcher.Logged())
	d.Register(CmdWaypointAdd, s.WaypointAdd, dispatcher.Logged())
	d.Register(CmdWaypointDelete, s.WaypointDelete, dispatcher.Logged())
	if s.deps.Stats != nil {
		d.Register(CmdStats, s.GetStats)
	}
}

func (s *Service) state() SimState {
	snap := s.deps.Engine.Snapshot()
	return SimState{Running: snap.Running, Tick: snap.Tick}
}

// SimStart starts the tick loop. Starting a running engine changes nothing.
func (s *Service) SimStart(dispatcher.Event) (any, error) {
	s.deps.Engine.Start()
	return s.state(), nil
}

// SimStop stops the tick loop. Stopping an idle engine changes nothing.
func (s *Service) SimStop(dispatcher.Event) (any, error) {
	s.deps.Engine.Stop()
	return s.state(), nil
}

// SimTick runs one tick outside the schedule and returns the new snapshot.
func (s *Service) SimTick(dispatcher.Event) (any, error) {
	s.deps.Engine.Tick()
	return s.deps.Engine.Snapshot(), nil
}

// WaypointAdd adds a manual waypoint.
// Args: entityID, name, lat, lng
func (s *Service) WaypointAdd(e dispatcher.Event) (any, error) {
	entityID, err := util.ArgInt(e.Args, 0, "entityID")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", CmdWaypointAdd, err)
	}

	// form fields are passed on untouched; missing ones reach the engine as
	// blanks so they are reported per field instead of as a missing argument
	in := core.WaypointInput{
		Name: util.ArgRaw(e.Args, 1),
		Lat:  util.ArgRaw(e.Args, 2),
		Lng:  util.ArgRaw(e.Args, 3),
	}

	p, err := s.deps.Engine.AddManualWaypoint(entityID, in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", CmdWaypointAdd, err)
	}
	s.deps.Logger.Debug("Manual waypoint stored", "entity", entityID, "point", p.ID)
	return p, nil
}

// WaypointDelete removes a point from an entity's trail.
// Args: entityID, pointID
func (s *Service) WaypointDelete(e dispatcher.Event) (any, error) {
	entityID, err := util.ArgInt(e.Args, 0, "entityID")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", CmdWaypointDelete, err)
	}
	pointID, err := util.ArgUint64(e.Args, 1, "pointID")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", CmdWaypointDelete, err)
	}

	deleted := s.deps.Engine.DeleteWaypoint(entityID, pointID)
	if !deleted {
		s.deps.Logger.Debug("Waypoint not found, nothing deleted", "entity", entityID, "point", pointID)
	}
	return DeleteResult{EntityID: entityID, PointID: pointID, Deleted: deleted}, nil
}

// GetStats returns the dashboard stats.
func (s *Service) GetStats(dispatcher.Event) (any, error) {
	return s.deps.Stats.Stats(), nil
}
