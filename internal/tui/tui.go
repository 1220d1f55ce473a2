// Package tui renders a terminal dashboard of the fleet.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OCAP2/fleetsim/internal/dispatcher"
	"github.com/OCAP2/fleetsim/internal/handlers"
	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/gdamore/tcell/v2"
)

// Source is the engine state the dashboard renders.
type Source interface {
	Snapshot() core.Snapshot
	Subscribe(fn func(core.Update)) (cancel func())
}

// Controller sends run control commands.
type Controller interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// StatsSource computes the header cards. Implemented by monitor.Service.
type StatsSource interface {
	Stats() core.Stats
}

// Dependencies holds all dependencies of the dashboard
type Dependencies struct {
	Screen     tcell.Screen
	Source     Source
	Controller Controller
	Stats      StatsSource // optional
	Logger     *slog.Logger
}

var (
	styleDefault  = tcell.StyleDefault
	styleHeader   = tcell.StyleDefault.Bold(true)
	styleActive   = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleInactive = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleLow      = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleMessage  = tcell.StyleDefault.Foreground(tcell.ColorYellow)
)

// lowBattery is the level below which the battery column turns red.
const lowBattery = 20.0

// Dashboard owns the screen while Run is active.
type Dashboard struct {
	deps Dependencies

	mu      sync.Mutex
	snap    core.Snapshot
	message string
}

// New creates a dashboard. The screen is initialised by Run.
func New(deps Dependencies) *Dashboard {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Dashboard{deps: deps}
}

// Run draws the dashboard until the user quits or ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	screen := d.deps.Screen
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()

	d.setSnapshot(d.deps.Source.Snapshot())

	redraw := make(chan struct{}, 1)
	cancel := d.deps.Source.Subscribe(func(u core.Update) {
		d.setSnapshot(u.Snapshot)
		select {
		case redraw <- struct{}{}:
		default:
		}
	})
	defer cancel()

	stop := make(chan struct{})
	events := make(chan tcell.Event, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pollEvents(screen, events, stop)
	}()
	defer func() {
		close(stop)
		// unblock PollEvent
		_ = screen.PostEvent(tcell.NewEventInterrupt(nil))
		wg.Wait()
	}()

	d.draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-redraw:
			d.draw()
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if !d.HandleKey(ev) {
					return nil
				}
				d.draw()
			case *tcell.EventResize:
				screen.Sync()
				d.draw()
			}
		}
	}
}

func pollEvents(screen tcell.Screen, out chan<- tcell.Event, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		ev := screen.PollEvent()
		if ev == nil {
			return
		}
		select {
		case out <- ev:
		case <-stop:
			return
		}
	}
}

func (d *Dashboard) setSnapshot(s core.Snapshot) {
	d.mu.Lock()
	d.snap = s
	d.mu.Unlock()
}

func (d *Dashboard) setMessage(format string, args ...any) {
	d.mu.Lock()
	d.message = fmt.Sprintf(format, args...)
	d.mu.Unlock()
}

// HandleKey applies a key press. It returns false when the user quits.
func (d *Dashboard) HandleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyRune:
	default:
		return true
	}

	switch ev.Rune() {
	case 'q', 'Q':
		return false
	case ' ':
		d.mu.Lock()
		running := d.snap.Running
		d.mu.Unlock()
		cmd := handlers.CmdSimStart
		if running {
			cmd = handlers.CmdSimStop
		}
		d.command(cmd)
	case 't', 'T':
		d.command(handlers.CmdSimTick)
	}
	return true
}

func (d *Dashboard) command(cmd string) {
	res, err := d.deps.Controller.Dispatch(dispatcher.Event{Command: cmd})
	if err != nil {
		d.deps.Logger.Error("Dashboard command failed", "command", cmd, "error", err)
		d.setMessage("%s failed: %v", cmd, err)
		return
	}
	switch r := res.(type) {
	case handlers.SimState:
		d.mu.Lock()
		d.snap.Running = r.Running
		d.mu.Unlock()
		if r.Running {
			d.setMessage("simulation started")
		} else {
			d.setMessage("simulation stopped")
		}
	case core.Snapshot:
		d.setSnapshot(r)
		d.setMessage("tick %d", r.Tick)
	}
}

// Lines renders the dashboard as text rows.
func (d *Dashboard) Lines() []string {
	d.mu.Lock()
	snap := d.snap
	message := d.message
	d.mu.Unlock()

	state := "stopped"
	if snap.Running {
		state = "running"
	}

	lines := []string{
		fmt.Sprintf("Fleet simulator  [%s]  tick %d  %s", state, snap.Tick, snap.Time.Format(time.TimeOnly)),
	}
	if d.deps.Stats != nil {
		st := d.deps.Stats.Stats()
		lines = append(lines, fmt.Sprintf("active %d/%d  alerts %d  history points %d  uptime %s",
			st.ActiveDevices, st.TotalDevices, st.TotalAlerts, st.HistoryPoints, st.Uptime.Truncate(time.Second)))
	}
	lines = append(lines, "",
		fmt.Sprintf("%-4s %-20s %-9s %-22s %7s %8s %6s", "ID", "NAME", "STATUS", "POSITION", "SPEED", "BATTERY", "TRAIL"))
	for _, e := range snap.Entities {
		lines = append(lines, fmt.Sprintf("%-4d %-20s %-9s %10.5f,%11.5f %7.1f %7.1f%% %6d",
			e.ID, truncate(e.Name, 20), e.Status, e.Position.Lat, e.Position.Lng,
			e.Speed, e.Battery, len(snap.History[e.ID])))
	}
	lines = append(lines, "", "space start/stop   t tick   q quit")
	if message != "" {
		lines = append(lines, message)
	}
	return lines
}

func (d *Dashboard) draw() {
	screen := d.deps.Screen
	screen.Clear()

	d.mu.Lock()
	snap := d.snap
	hasMessage := d.message != ""
	d.mu.Unlock()

	lines := d.Lines()
	header := 3
	if d.deps.Stats != nil {
		header = 4
	}
	for y, line := range lines {
		style := styleDefault
		switch {
		case y == 0 || y == header-1:
			style = styleHeader
		case y >= header && y < header+len(snap.Entities):
			e := snap.Entities[y-header]
			style = styleActive
			if !e.IsActive() {
				style = styleInactive
			}
			if e.Battery < lowBattery {
				style = styleLow
			}
		case hasMessage && y == len(lines)-1:
			style = styleMessage
		}
		drawString(screen, 0, y, line, style)
	}
	screen.Show()
}

func drawString(screen tcell.Screen, x, y int, s string, style tcell.Style) {
	for _, r := range s {
		screen.SetContent(x, y, r, nil, style)
		x++
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
