package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OCAP2/fleetsim/internal/model"
	"github.com/OCAP2/fleetsim/pkg/core"
)

// StatusFileName is written to the status directory on every sample.
const StatusFileName = "status.json"

// DefaultInterval is used when Dependencies.Interval is not set.
const DefaultInterval = 5 * time.Second

// SnapshotSource provides the engine state.
type SnapshotSource interface {
	Snapshot() core.Snapshot
}

// WriterStatus reports recorder health. Implemented by recorder.Recorder.
type WriterStatus interface {
	GetLastDBWriteDuration() time.Duration
	Pending() int
}

// PerformanceSink persists samples. Implemented by the GORM backend.
type PerformanceSink interface {
	RecordPerformance(p model.FleetPerformance) error
}

// StatsWriter exports stats as metrics. Implemented by influx.Manager.
type StatsWriter interface {
	WriteStats(stats core.Stats, t time.Time) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Source    SnapshotSource
	Alerts    func() int
	Writer    WriterStatus    // optional
	Perf      PerformanceSink // optional
	Metrics   StatsWriter     // optional
	Logger    *slog.Logger
	StatusDir string
	Interval  time.Duration
	StartedAt time.Time
	Now       func() time.Time
}

// Status is the content of the status file.
type Status struct {
	Time                time.Time  `json:"time"`
	Stats               core.Stats `json:"stats"`
	PendingUpdates      int        `json:"pendingUpdates"`
	LastWriteDurationMs float32    `json:"lastWriteDurationMs"`
}

// Service computes dashboard stats and periodically samples them
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = deps.Now()
	}
	if deps.Alerts == nil {
		deps.Alerts = func() int { return 0 }
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Stats computes the dashboard cards from the current engine state.
func (s *Service) Stats() core.Stats {
	return s.statsFor(s.deps.Source.Snapshot())
}

func (s *Service) statsFor(snap core.Snapshot) core.Stats {
	return core.Stats{
		ActiveDevices: snap.ActiveCount(),
		TotalDevices:  len(snap.Entities),
		TotalAlerts:   s.deps.Alerts(),
		HistoryPoints: snap.HistoryPoints(),
		Ticks:         snap.Tick,
		Running:       snap.Running,
		Uptime:        s.deps.Now().Sub(s.deps.StartedAt),
	}
}

// GetProgramStatus returns the current status and the matching perf model
func (s *Service) GetProgramStatus() (Status, model.FleetPerformance) {
	now := s.deps.Now()
	stats := s.Stats()

	status := Status{Time: now, Stats: stats}
	if s.deps.Writer != nil {
		status.PendingUpdates = s.deps.Writer.Pending()
		status.LastWriteDurationMs = float32(s.deps.Writer.GetLastDBWriteDuration().Microseconds()) / 1000
	}

	perf := model.FleetPerformance{
		Time:                now,
		Ticks:               stats.Ticks,
		ActiveDevices:       stats.ActiveDevices,
		HistoryPoints:       stats.HistoryPoints,
		WriteQueueLength:    status.PendingUpdates,
		LastWriteDurationMs: status.LastWriteDurationMs,
	}
	return status, perf
}

// StatusPath is where the status file is written, empty when disabled.
func (s *Service) StatusPath() string {
	if s.deps.StatusDir == "" {
		return ""
	}
	return filepath.Join(s.deps.StatusDir, StatusFileName)
}

// Sample takes one status sample and sends it to every configured sink.
func (s *Service) Sample() error {
	status, perf := s.GetProgramStatus()

	if path := s.StatusPath(); path != "" {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("write status file: %w", err)
		}
	}

	if s.deps.Perf != nil {
		if err := s.deps.Perf.RecordPerformance(perf); err != nil {
			return fmt.Errorf("record performance: %w", err)
		}
	}
	if s.deps.Metrics != nil {
		if err := s.deps.Metrics.WriteStats(status.Stats, status.Time); err != nil {
			return fmt.Errorf("write stats: %w", err)
		}
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	if s.deps.StatusDir != "" {
		if err := os.MkdirAll(s.deps.StatusDir, 0755); err != nil {
			return fmt.Errorf("create status dir: %w", err)
		}
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopChan)
	return nil
}

func (s *Service) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval, "path", s.StatusPath())

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.Sample(); err != nil {
				s.deps.Logger.Error("Status sample failed", "error", err)
			}
		}
	}
}

// Stop stops the status monitor and waits for the goroutine to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	s.mu.Unlock()
	s.wg.Wait()
}
