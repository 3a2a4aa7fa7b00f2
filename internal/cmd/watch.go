package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/errors"
	"github.com/Iron-Ham/pacer/internal/tui"
)

var (
	watchFramesPerTick int
	watchInterval      time.Duration
	watchNoPersist     bool
	watchNoReload      bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of the scheduler under a synthetic workload",
	Long: `Drive the scheduler with the synthetic workload and show every
component's counters as they change.

Learned state is restored on start and saved periodically and on exit. When
a config file is in use, edits to it are applied live.

Keys: p pause, n step one frame while paused, s save now, q quit.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addWorkloadFlags(watchCmd)
	watchCmd.Flags().IntVar(&watchFramesPerTick, "frames-per-tick", tui.DefaultFramesPerTick, "host frames simulated per refresh")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", tui.DefaultTickInterval, "wall time between refreshes")
	watchCmd.Flags().BoolVar(&watchNoPersist, "no-persist", false, "do not restore or save learned state")
	watchCmd.Flags().BoolVar(&watchNoReload, "no-reload", false, "ignore changes to the config file")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	s, w, loop, err := newSimulation(cfg, logger, simOpts, !watchNoPersist)
	if err != nil {
		return err
	}
	start := loop.Now()

	opts := tui.Options{
		TickInterval:  watchInterval,
		FramesPerTick: watchFramesPerTick,
	}
	if path := viper.ConfigFileUsed(); path != "" && !watchNoReload {
		watcher, err := config.NewWatcher(path, logger)
		if err != nil {
			logger.Warn("config reload disabled", "path", path, "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
			opts.Watcher = watcher
		}
	}

	runErr := tui.New(s, w, loop, opts).Run(cmd.Context())
	report := w.Report(loop.Now().Sub(start))
	logger.Info("watch finished", "frames", report.Frames, "phase", report.Phase,
		"dispatched", report.Stats.Coalescer.Dispatched)
	return errors.Join(runErr, s.Shutdown(context.Background()))
}
