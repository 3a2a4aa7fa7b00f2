package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/scheduler"
	"github.com/Iron-Ham/pacer/internal/sim"
	"github.com/Iron-Ham/pacer/internal/tui/styles"
)

// Defaults for Options
const (
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultFramesPerTick = 6
	// maxLogLines bounds the recent-events pane
	maxLogLines = 8
)

// Options control the watch view.
type Options struct {
	TickInterval  time.Duration   // Wall time between refreshes
	FramesPerTick int             // Host frames simulated per refresh
	Watcher       *config.Watcher // Optional; reloads are applied on the update loop
}

// Messages

type tickMsg time.Time

type reloadMsg struct {
	path   string
	reload config.Reload
}

// eventLog keeps the most recent notable bus events. The bus handler and
// the model both run on the bubbletea update goroutine.
type eventLog struct {
	start time.Time
	lines []string
}

func (l *eventLog) add(e event.Event) {
	line := fmt.Sprintf("%8s  %s", e.Timestamp().Sub(l.start).Round(time.Millisecond), describe(e))
	l.lines = append(l.lines, line)
	if len(l.lines) > maxLogLines {
		l.lines = l.lines[len(l.lines)-maxLogLines:]
	}
}

func describe(e event.Event) string {
	switch e := e.(type) {
	case event.TunerDelayAdjustedEvent:
		return fmt.Sprintf("delay %s/%s %v -> %v", e.Key, e.Context, e.Old.Round(time.Millisecond), e.New.Round(time.Millisecond))
	case event.DirtyDroppedEvent:
		return fmt.Sprintf("dropped %s (%s)", e.Target, e.Reason)
	case event.StateSavedEvent:
		return fmt.Sprintf("saved %d patterns, %d delays to %s", e.Patterns, e.Delays, e.Backend)
	case event.StateLoadedEvent:
		if e.Reset {
			return "state reset: " + e.Reason
		}
		return "state restored from " + e.Backend
	case event.ConfigReloadedEvent:
		if e.Err != nil {
			return "config rejected: " + e.Err.Error()
		}
		return "config reloaded"
	}
	return e.EventType()
}

// Model is the bubbletea model for pacer watch. It owns the scheduler: every
// call into it happens from Update.
type Model struct {
	sched *scheduler.Scheduler
	work  *sim.Workload
	loop  *clock.Loop
	opts  Options
	log   *eventLog
	start time.Time

	width     int
	height    int
	paused    bool
	quitting  bool
	status    string
	statusErr bool
}

// NewModel creates a watch model driving work on sched through loop.
func NewModel(sched *scheduler.Scheduler, work *sim.Workload, loop *clock.Loop, opts Options) Model {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.FramesPerTick <= 0 {
		opts.FramesPerTick = DefaultFramesPerTick
	}
	m := Model{
		sched: sched,
		work:  work,
		loop:  loop,
		opts:  opts,
		log:   &eventLog{start: loop.Now()},
		start: loop.Now(),
	}
	sched.Bus().SubscribeTypes(m.log.add,
		event.TypeTunerDelayAdjusted,
		event.TypeDirtyDropped,
		event.TypeStateSaved,
		event.TypeStateLoaded,
		event.TypeConfigReloaded,
		event.TypeDeferredOverflow,
	)
	return m
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitReload blocks on the watcher's channel in a command goroutine and
// hands the result to Update.
func waitReload(w *config.Watcher) tea.Cmd {
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		r, ok := <-w.Reloads()
		if !ok {
			return nil
		}
		return reloadMsg{path: w.Path(), reload: r}
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.opts.TickInterval), waitReload(m.opts.Watcher))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		if !m.paused {
			m.step(m.opts.FramesPerTick)
		}
		return m, tick(m.opts.TickInterval)

	case reloadMsg:
		if err := m.sched.HandleReload(msg.path, msg.reload); err != nil {
			m.setStatus("config rejected: "+err.Error(), true)
		} else {
			m.setStatus("config reloaded from "+msg.path, false)
		}
		return m, waitReload(m.opts.Watcher)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "p", " ":
		m.paused = !m.paused
	case "n":
		if m.paused {
			m.step(1)
		}
	case "s":
		if err := m.sched.Save(context.Background()); err != nil {
			m.setStatus("save failed: "+err.Error(), true)
		} else if m.sched.Store() == nil {
			m.setStatus("persistence is disabled", true)
		} else {
			m.setStatus("state saved", false)
		}
	}
	return m, nil
}

func (m *Model) step(frames int) {
	for range frames {
		m.work.Frame(m.loop)
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

// Paused reports whether the simulation is paused.
func (m Model) Paused() bool { return m.paused }

// Status returns the last status line.
func (m Model) Status() string { return m.status }

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	report := m.work.Report(m.loop.Now().Sub(m.start))
	cfg := m.sched.Config()

	header := fmt.Sprintf("pacer watch  %s  phase %s  frame %d",
		report.Simulated.Round(time.Second), report.Phase, report.Frames)
	if m.paused {
		header += "  " + styles.PausedBadge.Render("PAUSED")
	}

	sections := []string{
		styles.Header.Render(header),
		RenderStats(report.Stats, cfg.Budget, m.width),
		styles.Panel.Render(RenderDelays(DelayRows(m.sched, m.work.Keys(), report))),
	}
	if len(m.log.lines) > 0 {
		sections = append(sections, styles.Panel.Render(
			styles.PanelTitle.Render("Recent")+"\n"+strings.Join(m.log.lines, "\n")))
	}
	if m.status != "" {
		style := styles.SuccessMsg
		if m.statusErr {
			style = styles.ErrorMsg
		}
		sections = append(sections, style.Render(m.status))
	}
	sections = append(sections, styles.HelpBar.Render(help()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func help() string {
	keys := []struct{ key, desc string }{
		{"p", "pause"},
		{"n", "step"},
		{"s", "save"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, styles.HelpKey.Render(k.key)+" "+k.desc)
	}
	return strings.Join(parts, "  ")
}
