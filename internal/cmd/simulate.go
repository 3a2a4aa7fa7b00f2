package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/errors"
	"github.com/Iron-Ham/pacer/internal/logging"
	"github.com/Iron-Ham/pacer/internal/scheduler"
	"github.com/Iron-Ham/pacer/internal/sim"
	"github.com/Iron-Ham/pacer/internal/tui"
)

var (
	simTicks   int
	simPersist bool
	simJSON    bool
	simOpts    = sim.DefaultOptions()
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a headless synthetic workload and print a report",
	Long: `Run a seeded synthetic host for a number of frames on a simulated clock
and print what every component did.

By default learned state is neither loaded nor saved. With --persist the run
restores the configured state store first and saves to it on exit, so
repeated runs keep training the same tuner.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	addWorkloadFlags(simulateCmd)
	simulateCmd.Flags().IntVar(&simTicks, "ticks", 3600, "number of host frames to simulate")
	simulateCmd.Flags().BoolVar(&simPersist, "persist", false, "restore and save learned state")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "print the report as JSON")
}

// addWorkloadFlags binds the synthetic workload shape to cmd's flags.
func addWorkloadFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&simOpts.Targets, "targets", simOpts.Targets, "dirty targets alive at any time")
	cmd.Flags().IntVar(&simOpts.Events, "events", simOpts.Events, "distinct coalesced event keys")
	cmd.Flags().Uint64Var(&simOpts.Seed, "seed", simOpts.Seed, "workload random seed")
	cmd.Flags().Float64Var(&simOpts.Load, "load", simOpts.Load, "how busy each frame is, 0..1")
	cmd.Flags().Float64Var(&simOpts.FrameMs, "frame-ms", simOpts.FrameMs, "nominal frame time before load")
	cmd.Flags().IntVar(&simOpts.PhaseLen, "phase-frames", simOpts.PhaseLen, "frames between context changes")
}

// newSimulation builds a scheduler on a fresh loop and attaches a workload.
func newSimulation(cfg *config.Config, logger *logging.Logger, opts sim.Options, persist bool) (*scheduler.Scheduler, *sim.Workload, *clock.Loop, error) {
	w := sim.NewWorkload(opts)
	loop := clock.NewLoop(time.Now(), logger)

	schedOpts := []scheduler.Option{scheduler.WithSignals(w)}
	if !persist {
		schedOpts = append(schedOpts, scheduler.WithoutPersistence())
	}
	s, err := scheduler.New(cfg, loop, logger, schedOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	w.Attach(s)
	return s, w, loop, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simTicks <= 0 {
		return fmt.Errorf("--ticks must be positive, got %d", simTicks)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	s, w, loop, err := newSimulation(cfg, logger, simOpts, simPersist)
	if err != nil {
		return err
	}

	report := sim.Run(w, loop, simTicks)
	rows := tui.DelayRows(s, w.Keys(), report)
	shutdownErr := s.Shutdown(context.Background())
	report.Stats = s.Stats()

	out := cmd.OutOrStdout()
	if simJSON {
		err = writeReportJSON(out, report)
	} else {
		err = writeReport(out, cfg, report, rows)
	}
	return errors.Join(err, shutdownErr)
}

func writeReportJSON(w io.Writer, r sim.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeReport(w io.Writer, cfg *config.Config, r sim.Report, rows []tui.DelayRow) error {
	_, err := fmt.Fprintf(w, "Simulated %d frames (%s host time), final phase %s\n\n%s\n\n%s\n\nDirty updates %d, targets destroyed %d, housekeeping %d/%d\n",
		r.Frames,
		r.Simulated.Round(time.Millisecond),
		r.Phase,
		tui.RenderStats(r.Stats, cfg.Budget, 0),
		tui.RenderDelays(rows),
		r.Updates, r.Churned, r.Housekept, r.Deferred,
	)
	return err
}
