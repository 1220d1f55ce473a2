package dispatcher

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEntry struct {
	level string
	msg   string
	kv    []any
}

// recordingLogger keeps every record for inspection.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, kv: kv})
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.add("debug", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.add("error", msg, kv) }

func (l *recordingLogger) levels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.level)
	}
	return out
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.msg)
	}
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingLogger) {
	t.Helper()
	logger := &recordingLogger{}
	d, err := New(logger)
	require.NoError(t, err)
	return d, logger
}

func noop(Event) (any, error) { return nil, nil }

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(":STATS:", func(e Event) (any, error) {
		got = e
		return "result", nil
	})

	result, err := d.Dispatch(Event{Command: ":STATS:", Args: []string{"1"}})
	require.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.Equal(t, []string{"1"}, got.Args)
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Command: ":UNKNOWN:"})
	assert.ErrorContains(t, err, "unknown command: :UNKNOWN:")
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	d.Register(":SIM:TICK:", func(Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	for range 3 {
		result, err := d.Dispatch(Event{Command: ":SIM:TICK:"})
		require.NoError(t, err)
		assert.Equal(t, "queued", result)
	}

	wg.Wait()
	assert.Equal(t, int32(3), processed.Load())
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d.Register(":WAYPOINT:ADD:", func(Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil, nil
	}, Buffered(2))
	defer close(block)

	_, err := d.Dispatch(Event{Command: ":WAYPOINT:ADD:"})
	require.NoError(t, err)
	<-started

	// worker busy, two slots in the queue
	for range 2 {
		_, err := d.Dispatch(Event{Command: ":WAYPOINT:ADD:"})
		require.NoError(t, err)
	}

	_, err = d.Dispatch(Event{Command: ":WAYPOINT:ADD:"})
	assert.Error(t, err)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d.Register(":WAYPOINT:DELETE:", func(Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	d.Dispatch(Event{Command: ":WAYPOINT:DELETE:"})
	<-started
	d.Dispatch(Event{Command: ":WAYPOINT:DELETE:"})

	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Command: ":WAYPOINT:DELETE:"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("dispatch should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not resume after the queue drained")
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":SIM:START:", func(Event) (any, error) { return "ok", nil }, Logged())
	_, err := d.Dispatch(Event{Command: ":SIM:START:", Args: []string{"a", "b"}})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(logger.levels()), 2)
	assert.NotContains(t, logger.levels(), "error")
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":SIM:STOP:", func(Event) (any, error) {
		return nil, errors.New("not running")
	}, Logged())

	_, err := d.Dispatch(Event{Command: ":SIM:STOP:"})
	assert.EqualError(t, err, "not running")
	assert.Contains(t, logger.levels(), "error")
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register(":STATS:", noop)

	assert.True(t, d.HasHandler(":STATS:"))
	assert.False(t, d.HasHandler(":SIM:START:"))
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var wg sync.WaitGroup
	wg.Add(1)
	d.Register(":SIM:TICK:", func(Event) (any, error) {
		wg.Done()
		return "done", nil
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Event{Command: ":SIM:TICK:"})
	require.NoError(t, err)
	assert.Equal(t, "queued", result)

	wg.Wait()
	assert.GreaterOrEqual(t, len(logger.levels()), 2)
}

func TestDispatcher_Commands(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register(":SIM:STOP:", noop)
	d.Register(":SIM:START:", noop)

	assert.Equal(t, []string{":SIM:START:", ":SIM:STOP:"}, d.Commands())
}

func TestDispatcher_FillsTimestamp(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var seen time.Time
	d.Register(":STATS:", func(e Event) (any, error) {
		seen = e.Timestamp
		return nil, nil
	})

	before := time.Now()
	d.Dispatch(Event{Command: ":STATS:"})
	assert.False(t, seen.Before(before), "timestamp %v", seen)

	fixed := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	d.Dispatch(Event{Command: ":STATS:", Timestamp: fixed})
	assert.Equal(t, fixed, seen)
}

func TestDispatcher_CloseDrainsBuffered(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	d.Register(":SIM:TICK:", func(Event) (any, error) {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil, nil
	}, Buffered(10))

	for range 5 {
		_, err := d.Dispatch(Event{Command: ":SIM:TICK:"})
		require.NoError(t, err)
	}

	d.Close()
	d.Close()
	assert.Equal(t, int32(5), processed.Load(), "Close returns after the queue is drained")

	_, err := d.Dispatch(Event{Command: ":SIM:TICK:"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_BufferedErrorLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":WAYPOINT:ADD:", func(Event) (any, error) {
		return nil, errors.New("entity 9 not found")
	}, Buffered(1))

	d.Dispatch(Event{Command: ":WAYPOINT:ADD:"})
	d.Close()

	assert.Contains(t, logger.messages(), "buffered event failed")
}
