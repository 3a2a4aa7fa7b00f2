// Package tui renders a live view of a scheduler driven by the synthetic
// workload.
package tui

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/scheduler"
	"github.com/Iron-Ham/pacer/internal/sim"
)

// App wraps the Bubbletea program
type App struct {
	model Model
}

// New creates a watch view over sched. work and loop drive the frames.
func New(sched *scheduler.Scheduler, work *sim.Workload, loop *clock.Loop, opts Options) *App {
	return &App{model: NewModel(sched, work, loop, opts)}
}

// Run shows the view until the user quits, ctx is done, or the process is
// interrupted. An interrupt is a clean exit so the caller can still save
// learned state; the scheduler itself is left running for the caller to
// shut down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	program := tea.NewProgram(a.model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
