package recorder

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/fleetsim/internal/config"
	"github.com/OCAP2/fleetsim/internal/seed"
	"github.com/OCAP2/fleetsim/internal/sim"
	"github.com/OCAP2/fleetsim/internal/storage/memory"
	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op       string
	entityID int
	pointID  uint64
	tick     uint64
}

// fakeBackend records every call in order.
type fakeBackend struct {
	mu       sync.Mutex
	calls    []call
	session  *core.Session
	startErr error
	tickErr  error
	ended    bool
	release  chan struct{}
}

func (f *fakeBackend) Init() error  { return nil }
func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) StartSession(s *core.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
	return f.startErr
}

func (f *fakeBackend) EndSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	return nil
}

func (f *fakeBackend) RecordTick(s *core.Snapshot) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "tick", tick: s.Tick})
	return f.tickErr
}

func (f *fakeBackend) RecordWaypoint(entityID int, p *core.HistoryPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "add", entityID: entityID, pointID: p.ID})
	return nil
}

func (f *fakeBackend) DeleteWaypoint(entityID int, pointID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: "delete", entityID: entityID, pointID: pointID})
	return nil
}

func (f *fakeBackend) all() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeSource hands updates straight to the subscriber.
type fakeSource struct {
	fn       func(core.Update)
	canceled bool
}

func (s *fakeSource) Subscribe(fn func(core.Update)) func() {
	s.fn = fn
	return func() { s.canceled = true }
}

type fakeTelemetry struct {
	mu    sync.Mutex
	ticks []uint64
}

func (f *fakeTelemetry) WriteSnapshot(s *core.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, s.Tick)
	return nil
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(Dependencies{})
	assert.Error(t, err)
}

func TestRecorder_ForwardsInOrder(t *testing.T) {
	backend := &fakeBackend{}
	tel := &fakeTelemetry{}
	r, err := New(Dependencies{Backend: backend, Telemetry: tel})
	require.NoError(t, err)

	src := &fakeSource{}
	session := &core.Session{ID: "s1"}
	require.NoError(t, r.Start(src, session))
	require.NoError(t, r.Start(src, session), "second start is a no-op")
	assert.Same(t, session, backend.session)

	src.fn(core.Update{Kind: core.UpdateTick, Snapshot: core.Snapshot{Tick: 1}})
	src.fn(core.Update{Kind: core.UpdateWaypointAdded, EntityID: 3, Point: &core.HistoryPoint{ID: 9}})
	src.fn(core.Update{Kind: core.UpdateState})
	src.fn(core.Update{Kind: core.UpdateWaypointDeleted, EntityID: 3, Point: &core.HistoryPoint{ID: 9}})
	src.fn(core.Update{Kind: core.UpdateTick, Snapshot: core.Snapshot{Tick: 2}})

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())

	assert.True(t, src.canceled)
	assert.True(t, backend.ended)
	assert.Equal(t, []call{
		{op: "tick", tick: 1},
		{op: "add", entityID: 3, pointID: 9},
		{op: "delete", entityID: 3, pointID: 9},
		{op: "tick", tick: 2},
	}, backend.all())
	assert.Equal(t, []uint64{1, 2}, tel.ticks)
	assert.Equal(t, uint64(5), r.Recorded())
	assert.Zero(t, r.Failed())

	// updates after Stop are ignored
	src.fn(core.Update{Kind: core.UpdateTick})
	assert.Len(t, backend.all(), 4)
}

func TestRecorder_CountsFailures(t *testing.T) {
	backend := &fakeBackend{tickErr: errors.New("disk full")}
	r, err := New(Dependencies{Backend: backend})
	require.NoError(t, err)

	src := &fakeSource{}
	require.NoError(t, r.Start(src, &core.Session{}))
	src.fn(core.Update{Kind: core.UpdateTick})
	src.fn(core.Update{Kind: core.UpdateWaypointAdded, EntityID: 1})
	require.NoError(t, r.Stop())

	assert.Equal(t, uint64(2), r.Failed())
	assert.Zero(t, r.Recorded())
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{})}
	r, err := New(Dependencies{Backend: backend, BufferSize: 1})
	require.NoError(t, err)

	src := &fakeSource{}
	require.NoError(t, r.Start(src, &core.Session{}))

	// first update is taken by the writer and blocks in RecordTick
	src.fn(core.Update{Kind: core.UpdateTick, Snapshot: core.Snapshot{Tick: 1}})
	assert.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, time.Millisecond)
	src.fn(core.Update{Kind: core.UpdateTick, Snapshot: core.Snapshot{Tick: 2}})
	src.fn(core.Update{Kind: core.UpdateTick, Snapshot: core.Snapshot{Tick: 3}})

	assert.Equal(t, uint64(1), r.Dropped())
	close(backend.release)
	require.NoError(t, r.Stop())
	assert.Len(t, backend.all(), 2)
}

func TestRecorder_StartErrors(t *testing.T) {
	r, err := New(Dependencies{Backend: &fakeBackend{startErr: errors.New("no db")}})
	require.NoError(t, err)
	assert.ErrorContains(t, r.Start(&fakeSource{}, &core.Session{}), "no db")
	require.NoError(t, r.Stop())

	assert.ErrorIs(t, r.Start(&fakeSource{}, &core.Session{}), ErrStopped)
}

func TestRecorder_LastWriteDuration(t *testing.T) {
	r, err := New(Dependencies{Backend: &fakeBackend{}})
	require.NoError(t, err)
	assert.Zero(t, r.GetLastDBWriteDuration())
}

func TestRecorder_WithEngine(t *testing.T) {
	fleet := seed.Demo()
	sched := sim.NewManualScheduler()
	engine, err := sim.New(fleet.Entities(), fleet.History(), sim.Options{Scheduler: sched, Rand: sim.NewRand(7)})
	require.NoError(t, err)

	backend := memory.New(config.MemoryConfig{OutputDir: t.TempDir()})
	r, err := New(Dependencies{Backend: backend})
	require.NoError(t, err)

	snap := engine.Snapshot()
	require.NoError(t, r.Start(engine, &core.Session{ID: "engine", StartTime: snap.Time, Interval: engine.Interval(), Initial: snap}))

	engine.Tick()
	engine.Tick()
	p, err := engine.AddManualWaypoint(3, core.WaypointInput{Name: "Depot", Lat: "40.75", Lng: "-73.98"})
	require.NoError(t, err)
	require.True(t, engine.DeleteWaypoint(3, p.ID))
	require.NoError(t, r.Stop())

	rec, ok := backend.GetDevice(1)
	require.True(t, ok)
	assert.Len(t, rec.Samples, 2)
	events := backend.Events()
	require.Len(t, events, 2)
	assert.Equal(t, p.ID, events[0].PointID)
	assert.Equal(t, core.UpdateWaypointDeleted, events[1].Kind)
	assert.NotEmpty(t, backend.GetExportedFilePath())
}
