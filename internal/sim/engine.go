package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OCAP2/fleetsim/internal/queue"
	"github.com/OCAP2/fleetsim/pkg/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultInterval     = 3000 * time.Millisecond
	DefaultHistoryLimit = 20

	// drift bands, in degrees / mph / percent
	positionDrift  = 0.001
	trailJitter    = 0.002
	speedDrift     = 10
	batteryDrain   = 0.5
	trailSpeedMax  = 60
	manualSpeedMax = 50
)

// Rand is the random source behind every perturbation.
type Rand interface {
	Float64() float64
}

// Options configures an Engine. Zero values pick the defaults.
type Options struct {
	Scheduler    Scheduler
	Rand         Rand
	Clock        Clock
	Interval     time.Duration
	HistoryLimit int
	Logger       *slog.Logger
}

// NewRand returns a PCG source. A zero seed is replaced with a time-based one.
func NewRand(seed uint64) Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Engine owns the roster and the per-entity history trails.
// All methods are safe for concurrent use. Listeners are called without
// the engine lock held, one update at a time in the order the state changed.
// They may read the engine but must not mutate it or call Stop.
type Engine struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	order   []int
	roster  map[int]*core.Entity
	history map[int][]core.HistoryPoint
	ticks   uint64
	nextID  uint64
	running bool

	// run loop; runMu serializes Start and Stop
	runMu  sync.Mutex
	ticker Ticker
	stop   chan struct{}
	wg     sync.WaitGroup

	lmu       sync.RWMutex
	listeners map[uint64]func(core.Update)
	nextLID   uint64

	// delivery tickets: seq is taken under mu, served advances as each
	// update finishes so listeners see updates in state order
	seq    uint64
	dmu    sync.Mutex
	dcond  *sync.Cond
	served uint64

	tickCounter     metric.Int64Counter
	waypointCounter metric.Int64Counter
}

// New builds an engine from a roster and optional seeded history.
// The inputs are copied; history for ids not in the roster is ignored.
func New(roster []core.Entity, history map[int][]core.HistoryPoint, opts Options) (*Engine, error) {
	if opts.Scheduler == nil {
		opts.Scheduler = WallScheduler{}
	}
	if opts.Rand == nil {
		opts.Rand = NewRand(0)
	}
	if opts.Clock == nil {
		opts.Clock = WallClock
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		opts:      opts,
		log:       opts.Logger.With("component", "sim"),
		roster:    make(map[int]*core.Entity, len(roster)),
		history:   make(map[int][]core.HistoryPoint, len(history)),
		listeners: make(map[uint64]func(core.Update)),
	}
	e.dcond = sync.NewCond(&e.dmu)

	for _, ent := range roster {
		if _, dup := e.roster[ent.ID]; dup {
			return nil, fmt.Errorf("duplicate entity id %d", ent.ID)
		}
		e.roster[ent.ID] = &ent
		e.order = append(e.order, ent.ID)
	}

	for id, points := range history {
		if _, ok := e.roster[id]; !ok {
			continue
		}
		e.history[id] = core.CloneHistory(points)
		for _, p := range points {
			if p.ID > e.nextID {
				e.nextID = p.ID
			}
		}
	}

	m := meter()
	var err error
	e.tickCounter, err = m.Int64Counter(
		"sim.ticks",
		metric.WithDescription("Simulation ticks applied"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}
	e.waypointCounter, err = m.Int64Counter(
		"sim.waypoints",
		metric.WithDescription("Manual waypoint operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating waypoint counter: %w", err)
	}

	return e, nil
}

// Interval returns the scheduled tick period.
func (e *Engine) Interval() time.Duration { return e.opts.Interval }

// HistoryLimit returns the cap applied to tick-generated trails.
func (e *Engine) HistoryLimit() int { return e.opts.HistoryLimit }

// Tick advances the simulation by one step.
func (e *Engine) Tick() {
	e.tick("manual")
}

func (e *Engine) tick(source string) {
	e.mu.Lock()
	r := e.opts.Rand
	for _, id := range e.order {
		ent := e.roster[id]
		ent.Position.Lat += (r.Float64() - 0.5) * positionDrift
		ent.Position.Lng += (r.Float64() - 0.5) * positionDrift
		ent.Speed = math.Max(0, ent.Speed+(r.Float64()-0.5)*speedDrift)
		ent.Battery = math.Max(0, ent.Battery-r.Float64()*batteryDrain)
	}

	now := e.opts.Clock.Now()
	for _, id := range e.order {
		ent := e.roster[id]
		if !ent.IsActive() {
			continue
		}
		e.nextID++
		p := core.HistoryPoint{
			ID: e.nextID,
			Position: core.Position{
				Lat: ent.Position.Lat + (r.Float64()-0.5)*trailJitter,
				Lng: ent.Position.Lng + (r.Float64()-0.5)*trailJitter,
			},
			Timestamp: now,
			Speed:     math.Floor(r.Float64() * trailSpeedMax),
			Status:    core.StatusActive,
		}
		e.history[id] = queue.AppendBounded(e.history[id], e.opts.HistoryLimit, p)
	}
	e.ticks++
	snap := e.snapshotAt(now)
	ticket := e.ticketLocked()
	e.mu.Unlock()

	e.tickCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", source)))
	e.log.Debug("tick applied", "tick", snap.Tick, "source", source, "historyPoints", snap.HistoryPoints())
	e.deliver(ticket, core.Update{Kind: core.UpdateTick, Snapshot: snap})
}

// Start arms the ticker. It is a no-op while already running.
func (e *Engine) Start() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.ticker != nil {
		return
	}

	// running is set before the loop exists so the first scheduled tick
	// already reports it
	e.mu.Lock()
	e.running = true
	snap := e.snapshotLocked()
	ticket := e.ticketLocked()
	e.mu.Unlock()

	e.ticker = e.opts.Scheduler.NewTicker(e.opts.Interval)
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go e.loop(e.ticker, e.stop)

	e.log.Info("simulation started", "interval", e.opts.Interval)
	e.deliver(ticket, core.Update{Kind: core.UpdateState, Snapshot: snap})
}

// Stop cancels the ticker and waits for the loop to exit, so no scheduled
// tick runs after Stop returns. It is a no-op while idle.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.ticker == nil {
		return
	}

	close(e.stop)
	e.ticker.Stop()
	e.wg.Wait()
	e.ticker = nil
	e.stop = nil

	e.mu.Lock()
	e.running = false
	snap := e.snapshotLocked()
	ticket := e.ticketLocked()
	e.mu.Unlock()

	e.log.Info("simulation stopped", "ticks", snap.Tick)
	e.deliver(ticket, core.Update{Kind: core.UpdateState, Snapshot: snap})
}

// Running reports whether the ticker is armed.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Ticks returns the number of ticks applied so far.
func (e *Engine) Ticks() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}

func (e *Engine) loop(t Ticker, stop <-chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			select {
			case <-stop:
				return
			default:
			}
			e.tick("scheduled")
		}
	}
}

// AddManualWaypoint validates the input and appends a manual point to the
// entity's trail. Manual points are never truncated on insert.
func (e *Engine) AddManualWaypoint(entityID int, in WaypointInput) (core.HistoryPoint, error) {
	pos, err := parseWaypoint(in)
	if err != nil {
		return core.HistoryPoint{}, err
	}

	e.mu.Lock()
	if _, ok := e.roster[entityID]; !ok {
		e.mu.Unlock()
		return core.HistoryPoint{}, fmt.Errorf("%w: %d", ErrUnknownEntity, entityID)
	}
	e.nextID++
	p := core.HistoryPoint{
		ID:        e.nextID,
		Name:      strings.TrimSpace(in.Name),
		Position:  pos,
		Timestamp: e.opts.Clock.Now(),
		Speed:     math.Floor(e.opts.Rand.Float64() * manualSpeedMax),
		Status:    core.StatusManual,
	}
	e.history[entityID] = queue.AppendBounded(e.history[entityID], 0, p)
	snap := e.snapshotLocked()
	ticket := e.ticketLocked()
	e.mu.Unlock()

	e.waypointCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", "add")))
	e.log.Info("waypoint added", "entity", entityID, "point", p.ID, "name", p.Name)
	point := p
	e.deliver(ticket, core.Update{Kind: core.UpdateWaypointAdded, EntityID: entityID, Point: &point, Snapshot: snap})
	return p, nil
}

// DeleteWaypoint removes the point with the given id from the entity's trail.
// It returns false, changing nothing, when no such point exists.
func (e *Engine) DeleteWaypoint(entityID int, pointID uint64) bool {
	var removed core.HistoryPoint
	e.mu.Lock()
	points, ok := queue.RemoveFirst(e.history[entityID], func(p core.HistoryPoint) bool {
		if p.ID != pointID {
			return false
		}
		removed = p
		return true
	})
	if !ok {
		e.mu.Unlock()
		return false
	}
	e.history[entityID] = points
	snap := e.snapshotLocked()
	ticket := e.ticketLocked()
	e.mu.Unlock()

	e.waypointCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", "delete")))
	e.log.Info("waypoint deleted", "entity", entityID, "point", pointID)
	e.deliver(ticket, core.Update{Kind: core.UpdateWaypointDeleted, EntityID: entityID, Point: &removed, Snapshot: snap})
	return true
}

// Entities returns the roster in insertion order.
func (e *Engine) Entities() []core.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entitiesLocked()
}

// Entity returns a single roster entry.
func (e *Engine) Entity(id int) (core.Entity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.roster[id]
	if !ok {
		return core.Entity{}, false
	}
	return *ent, true
}

// History returns the entity's trail, oldest first. Unknown ids yield an empty slice.
func (e *Engine) History(id int) []core.HistoryPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return core.CloneHistory(e.history[id])
}

// Snapshot returns a copy of the full engine state.
func (e *Engine) Snapshot() core.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) entitiesLocked() []core.Entity {
	out := make([]core.Entity, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.roster[id])
	}
	return out
}

func (e *Engine) snapshotLocked() core.Snapshot {
	return e.snapshotAt(e.opts.Clock.Now())
}

// snapshotAt stamps the snapshot with t. Tick snapshots share the timestamp
// of the trail points they produced.
func (e *Engine) snapshotAt(t time.Time) core.Snapshot {
	hist := make(map[int][]core.HistoryPoint, len(e.history))
	for id, points := range e.history {
		hist[id] = core.CloneHistory(points)
	}
	return core.Snapshot{
		Tick:     e.ticks,
		Time:     t,
		Running:  e.running,
		Entities: e.entitiesLocked(),
		History:  hist,
	}
}

// Subscribe registers fn for every update. The returned func unregisters it.
func (e *Engine) Subscribe(fn func(core.Update)) (cancel func()) {
	e.lmu.Lock()
	e.nextLID++
	id := e.nextLID
	e.listeners[id] = fn
	e.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.lmu.Lock()
			delete(e.listeners, id)
			e.lmu.Unlock()
		})
	}
}

// OnTick registers fn for tick updates only.
func (e *Engine) OnTick(fn func(core.Snapshot)) (cancel func()) {
	return e.Subscribe(func(u core.Update) {
		if u.Kind == core.UpdateTick {
			fn(u.Snapshot)
		}
	})
}

// ticketLocked reserves the delivery slot for the state change just made.
func (e *Engine) ticketLocked() uint64 {
	t := e.seq
	e.seq++
	return t
}

// deliver waits until every earlier ticket has been delivered, then notifies.
func (e *Engine) deliver(ticket uint64, u core.Update) {
	e.dmu.Lock()
	for e.served != ticket {
		e.dcond.Wait()
	}
	e.dmu.Unlock()

	defer func() {
		e.dmu.Lock()
		e.served++
		e.dcond.Broadcast()
		e.dmu.Unlock()
	}()
	e.notify(u)
}

func (e *Engine) notify(u core.Update) {
	e.lmu.RLock()
	fns := make([]func(core.Update), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.lmu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}

// WaypointInput is the raw form input for a manual waypoint.
type WaypointInput = core.WaypointInput

func parseWaypoint(in WaypointInput) (core.Position, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		verr.add("name", "is required")
	}
	lat, ok := parseCoord(in.Lat, "lat", verr)
	lng, ok2 := parseCoord(in.Lng, "lng", verr)
	if !verr.empty() || !ok || !ok2 {
		return core.Position{}, verr
	}
	return core.Position{Lat: lat, Lng: lng}, nil
}

func parseCoord(raw, field string, verr *ValidationError) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		verr.add(field, "is required")
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		verr.add(field, "must be a number")
		return 0, false
	}
	return v, true
}
