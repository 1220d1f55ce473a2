package monitor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/fleetsim/internal/model"
	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type staticSource struct{ snap core.Snapshot }

func (s staticSource) Snapshot() core.Snapshot { return s.snap }

type fakeWriter struct{}

func (fakeWriter) GetLastDBWriteDuration() time.Duration { return 1500 * time.Microsecond }
func (fakeWriter) Pending() int                          { return 4 }

type fakePerf struct {
	mu      sync.Mutex
	samples []model.FleetPerformance
	err     error
}

func (f *fakePerf) RecordPerformance(p model.FleetPerformance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, p)
	return f.err
}

func (f *fakePerf) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

type fakeMetrics struct{ stats []core.Stats }

func (f *fakeMetrics) WriteStats(s core.Stats, _ time.Time) error {
	f.stats = append(f.stats, s)
	return nil
}

func demoSnapshot() core.Snapshot {
	return core.Snapshot{
		Tick:    12,
		Running: true,
		Entities: []core.Entity{
			{ID: 1, Status: core.StatusActive},
			{ID: 2, Status: core.StatusActive},
			{ID: 3, Status: core.StatusInactive},
		},
		History: map[int][]core.HistoryPoint{
			1: make([]core.HistoryPoint, 20),
			2: make([]core.HistoryPoint, 20),
			3: make([]core.HistoryPoint, 2),
		},
	}
}

func newTestService(deps Dependencies) *Service {
	deps.Source = staticSource{demoSnapshot()}
	deps.StartedAt = t0
	deps.Now = func() time.Time { return t0.Add(90 * time.Second) }
	deps.Alerts = func() int { return 3 }
	return NewService(deps)
}

func TestStats(t *testing.T) {
	s := newTestService(Dependencies{})
	assert.Equal(t, core.Stats{
		ActiveDevices: 2,
		TotalDevices:  3,
		TotalAlerts:   3,
		HistoryPoints: 42,
		Ticks:         12,
		Running:       true,
		Uptime:        90 * time.Second,
	}, s.Stats())
}

func TestGetProgramStatus(t *testing.T) {
	s := newTestService(Dependencies{Writer: fakeWriter{}})
	status, perf := s.GetProgramStatus()

	assert.Equal(t, 4, status.PendingUpdates)
	assert.InDelta(t, 1.5, status.LastWriteDurationMs, 1e-6)
	assert.Equal(t, t0.Add(90*time.Second), perf.Time)
	assert.Equal(t, uint64(12), perf.Ticks)
	assert.Equal(t, 42, perf.HistoryPoints)
	assert.Equal(t, 4, perf.WriteQueueLength)
}

func TestSample_WritesSinks(t *testing.T) {
	dir := t.TempDir()
	perf := &fakePerf{}
	metrics := &fakeMetrics{}
	s := newTestService(Dependencies{StatusDir: dir, Perf: perf, Metrics: metrics})

	require.NoError(t, s.Sample())

	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, 2, status.Stats.ActiveDevices)
	assert.Equal(t, 1, perf.count())
	require.Len(t, metrics.stats, 1)
	assert.Equal(t, 42, metrics.stats[0].HistoryPoints)
}

func TestSample_PerfError(t *testing.T) {
	s := newTestService(Dependencies{Perf: &fakePerf{err: errors.New("db gone")}})
	assert.ErrorContains(t, s.Sample(), "db gone")
	assert.Empty(t, s.StatusPath())
}

func TestStartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	perf := &fakePerf{}
	s := newTestService(Dependencies{StatusDir: dir, Perf: perf, Interval: 5 * time.Millisecond})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return perf.count() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
	assert.FileExists(t, filepath.Join(dir, StatusFileName))

	n := perf.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, perf.count(), "no samples after Stop")
}

func TestNewService_Defaults(t *testing.T) {
	s := NewService(Dependencies{Source: staticSource{}})
	assert.Equal(t, DefaultInterval, s.deps.Interval)
	assert.Zero(t, s.Stats().TotalAlerts)
	assert.False(t, s.IsRunning())
}
