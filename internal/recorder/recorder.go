// Package recorder forwards engine updates to a storage backend and the
// telemetry writer on its own goroutine.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/fleetsim/internal/storage"
	"github.com/OCAP2/fleetsim/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/fleetsim/internal/recorder"

// DefaultBufferSize is the number of updates held before new ones are dropped.
const DefaultBufferSize = 1024

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("recorder stopped")

// Source is anything that publishes engine updates.
type Source interface {
	Subscribe(fn func(core.Update)) (cancel func())
}

// TelemetryWriter receives every tick snapshot, e.g. the influx manager.
type TelemetryWriter interface {
	WriteSnapshot(s *core.Snapshot) error
}

// DBWriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	LastWriteDuration() time.Duration
}

// Dependencies holds all dependencies for the recorder
type Dependencies struct {
	Backend    storage.Backend
	Telemetry  TelemetryWriter // optional
	Logger     *slog.Logger
	BufferSize int
}

// Recorder buffers engine updates and writes them in order.
type Recorder struct {
	deps    Dependencies
	log     *slog.Logger
	updates chan core.Update

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  func()
	wg      sync.WaitGroup

	recorded  atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	lastWrite atomic.Int64

	updateCounter metric.Int64Counter
}

// New creates a recorder. Call Start to begin the session.
func New(deps Dependencies) (*Recorder, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("recorder: no storage backend")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.BufferSize <= 0 {
		deps.BufferSize = DefaultBufferSize
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"recorder.updates",
		metric.WithDescription("Engine updates handled by the recorder"),
	)
	if err != nil {
		return nil, fmt.Errorf("create update counter: %w", err)
	}

	return &Recorder{
		deps:          deps,
		log:           deps.Logger,
		updates:       make(chan core.Update, deps.BufferSize),
		updateCounter: counter,
	}, nil
}

// Start opens the session on the backend, subscribes to src and starts the
// writer goroutine.
func (r *Recorder) Start(src Source, session *core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if r.started {
		return nil
	}

	if err := r.deps.Backend.StartSession(session); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	r.started = true
	r.wg.Add(1)
	go r.run()
	r.cancel = src.Subscribe(r.Handle)

	r.log.Info("Recording started", "session", session.ID, "devices", len(session.Initial.Entities))
	return nil
}

// Handle queues an update. It never blocks; updates are dropped when the buffer is full.
func (r *Recorder) Handle(u core.Update) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.started || r.stopped {
		return
	}

	select {
	case r.updates <- u:
	default:
		r.dropped.Add(1)
		r.updateCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("kind", string(u.Kind)),
			attribute.String("result", "dropped"),
		))
		r.log.Warn("Recorder buffer full, dropping update", "kind", u.Kind)
	}
}

// Stop unsubscribes, drains pending updates and ends the session on the backend.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	cancel := r.cancel
	started := r.started
	close(r.updates)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	if !started {
		return nil
	}
	if err := r.deps.Backend.EndSession(); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	r.log.Info("Recording stopped", "recorded", r.recorded.Load(), "dropped", r.dropped.Load(), "failed", r.failed.Load())
	return nil
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for u := range r.updates {
		start := time.Now()
		err := r.record(u)
		r.lastWrite.Store(int64(time.Since(start)))

		result := "ok"
		if err != nil {
			result = "error"
			r.failed.Add(1)
			r.log.Error("Failed to record update", "kind", u.Kind, "error", err)
		} else {
			r.recorded.Add(1)
		}
		r.updateCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("kind", string(u.Kind)),
			attribute.String("result", result),
		))
	}
}

func (r *Recorder) record(u core.Update) error {
	switch u.Kind {
	case core.UpdateTick:
		snap := u.Snapshot
		err := r.deps.Backend.RecordTick(&snap)
		if r.deps.Telemetry != nil {
			err = errors.Join(err, r.deps.Telemetry.WriteSnapshot(&snap))
		}
		return err
	case core.UpdateWaypointAdded:
		if u.Point == nil {
			return fmt.Errorf("waypoint update for entity %d has no point", u.EntityID)
		}
		return r.deps.Backend.RecordWaypoint(u.EntityID, u.Point)
	case core.UpdateWaypointDeleted:
		if u.Point == nil {
			return fmt.Errorf("waypoint delete for entity %d has no point", u.EntityID)
		}
		return r.deps.Backend.DeleteWaypoint(u.EntityID, u.Point.ID)
	default:
		r.log.Debug("Simulation state changed", "running", u.Snapshot.Running)
		return nil
	}
}

// Recorded is the number of updates written without error.
func (r *Recorder) Recorded() uint64 {
	return r.recorded.Load()
}

// Dropped is the number of updates discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Failed is the number of updates the backend rejected.
func (r *Recorder) Failed() uint64 {
	return r.failed.Load()
}

// Pending is the number of buffered updates.
func (r *Recorder) Pending() int {
	return len(r.updates)
}

// GetLastDBWriteDuration returns the backend's last flush duration when it
// reports one, otherwise the duration of the last recorded update.
func (r *Recorder) GetLastDBWriteDuration() time.Duration {
	if p, ok := r.deps.Backend.(DBWriteDurationProvider); ok {
		return p.LastWriteDuration()
	}
	return time.Duration(r.lastWrite.Load())
}

// Backend returns the storage backend the recorder writes to.
func (r *Recorder) Backend() storage.Backend {
	return r.deps.Backend
}
