package sim

import (
	"sync"
	"time"
)

// Ticker delivers scheduled tick times until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Scheduler creates tickers for the engine's run loop.
type Scheduler interface {
	NewTicker(d time.Duration) Ticker
}

// Clock provides the timestamp stamped on new history points.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time { return f() }

// WallClock is the system clock.
var WallClock Clock = ClockFunc(time.Now)

// WallScheduler schedules ticks with time.Ticker.
type WallScheduler struct{}

// NewTicker starts a real-time ticker.
func (WallScheduler) NewTicker(d time.Duration) Ticker {
	return &wallTicker{t: time.NewTicker(d)}
}

type wallTicker struct {
	t *time.Ticker
}

func (w *wallTicker) C() <-chan time.Time { return w.t.C }
func (w *wallTicker) Stop()               { w.t.Stop() }

// ManualScheduler hands out tickers that only fire when told to.
// Tests use it to drive the run loop deterministically.
type ManualScheduler struct {
	mu      sync.Mutex
	tickers []*manualTicker
	armed   int
}

// NewManualScheduler returns a scheduler with no tickers.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// NewTicker registers a ticker that fires on Fire.
func (s *ManualScheduler) NewTicker(d time.Duration) Ticker {
	t := &manualTicker{
		interval: d,
		c:        make(chan time.Time),
		done:     make(chan struct{}),
	}
	s.mu.Lock()
	s.tickers = append(s.tickers, t)
	s.armed++
	s.mu.Unlock()
	return t
}

// Fire delivers one tick to every live ticker and blocks until each has been received.
// It returns the number of tickers that received the tick.
func (s *ManualScheduler) Fire() int {
	s.mu.Lock()
	live := make([]*manualTicker, 0, len(s.tickers))
	for _, t := range s.tickers {
		if !t.stopped() {
			live = append(live, t)
		}
	}
	s.mu.Unlock()

	n := 0
	now := time.Now()
	for _, t := range live {
		select {
		case t.c <- now:
			n++
		case <-t.done:
		}
	}
	return n
}

// Armed returns how many tickers were ever created.
func (s *ManualScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Active returns how many tickers have not been stopped.
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickers {
		if !t.stopped() {
			n++
		}
	}
	return n
}

// LastInterval returns the interval of the most recently created ticker.
func (s *ManualScheduler) LastInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tickers) == 0 {
		return 0
	}
	return s.tickers[len(s.tickers)-1].interval
}

type manualTicker struct {
	interval time.Duration
	c        chan time.Time
	done     chan struct{}
	once     sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *manualTicker) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
