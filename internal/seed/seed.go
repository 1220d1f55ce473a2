// Package seed provides the starting fleet: roster, trails, geofences and alerts.
package seed

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/OCAP2/fleetsim/pkg/core"
)

// Fleet is an immutable starting data set. Accessors return copies.
type Fleet struct {
	entities []core.Entity
	history  map[int][]core.HistoryPoint
	fences   []core.GeoFence
	alerts   []core.Alert
}

// Entities returns the roster in file order.
func (f *Fleet) Entities() []core.Entity {
	out := make([]core.Entity, len(f.entities))
	copy(out, f.entities)
	return out
}

// History returns the seeded trails keyed by entity id.
func (f *Fleet) History() map[int][]core.HistoryPoint {
	out := make(map[int][]core.HistoryPoint, len(f.history))
	for id, points := range f.history {
		out[id] = core.CloneHistory(points)
	}
	return out
}

// GeoFences returns the configured zones.
func (f *Fleet) GeoFences() []core.GeoFence {
	out := make([]core.GeoFence, len(f.fences))
	copy(out, f.fences)
	return out
}

// GeoFence looks up a zone by id.
func (f *Fleet) GeoFence(id int) (core.GeoFence, bool) {
	for _, g := range f.fences {
		if g.ID == id {
			return g, true
		}
	}
	return core.GeoFence{}, false
}

// Alerts returns the static alert feed.
func (f *Fleet) Alerts() []core.Alert {
	out := make([]core.Alert, len(f.alerts))
	copy(out, f.alerts)
	return out
}

// fleetFile is the on-disk roster format.
type fleetFile struct {
	Devices   []core.Entity                  `json:"devices"`
	History   map[string][]core.HistoryPoint `json:"history"`
	GeoFences []core.GeoFence                `json:"geofences"`
	Alerts    []core.Alert                   `json:"alerts"`
}

// Load reads a roster file. The file replaces the demo data entirely.
func Load(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}

	var ff fleetFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing roster %s: %w", path, err)
	}

	history := make(map[int][]core.HistoryPoint, len(ff.History))
	for key, points := range ff.History {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("history key %q is not a device id", key)
		}
		history[id] = points
	}

	f := &Fleet{
		entities: ff.Devices,
		history:  history,
		fences:   ff.GeoFences,
		alerts:   ff.Alerts,
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return f, nil
}

// ErrInvalidRoster is wrapped by every roster validation failure.
var ErrInvalidRoster = errors.New("invalid roster")

func (f *Fleet) validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidRoster}, args...)...))
	}

	if len(f.entities) == 0 {
		bad("no devices")
	}

	seen := make(map[int]bool, len(f.entities))
	for _, e := range f.entities {
		if seen[e.ID] {
			bad("duplicate device id %d", e.ID)
		}
		seen[e.ID] = true
		if !e.Status.Valid() {
			bad("device %d: unknown status %q", e.ID, e.Status)
		}
		if e.Battery < 0 || e.Battery > 100 {
			bad("device %d: battery %.1f out of range", e.ID, e.Battery)
		}
		if e.Speed < 0 {
			bad("device %d: negative speed", e.ID)
		}
	}

	pointIDs := make(map[uint64]bool)
	for id, points := range f.history {
		if !seen[id] {
			bad("history for unknown device %d", id)
		}
		for _, p := range points {
			if pointIDs[p.ID] {
				bad("duplicate history point id %d", p.ID)
			}
			pointIDs[p.ID] = true
		}
	}

	fenceIDs := make(map[int]bool, len(f.fences))
	for _, g := range f.fences {
		if fenceIDs[g.ID] {
			bad("duplicate geofence id %d", g.ID)
		}
		fenceIDs[g.ID] = true
		if g.Radius <= 0 {
			bad("geofence %d: radius must be positive", g.ID)
		}
	}

	return errors.Join(errs...)
}
