package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/errors"
	"github.com/Iron-Ham/pacer/internal/state"
	"github.com/Iron-Ham/pacer/internal/tui"
)

var (
	exportFormat string
	exportOutput string
	resetForce   bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset the tuner's learned state",
	Long: `Inspect or reset the tuner's learned state in the configured store.

Without a subcommand, shows a summary of the stored state.`,
	RunE: runStateShow,
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Summarize the stored state",
	RunE:  runStateShow,
}

var stateExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the stored state as JSON or YAML",
	RunE:  runStateExport,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the stored state",
	Long:  `Delete the stored state. The next run starts with an untrained tuner.`,
	RunE:  runStateReset,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateExportCmd)
	stateCmd.AddCommand(stateResetCmd)

	stateExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "output format: json or yaml")
	stateExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to a file instead of stdout")
	stateResetCmd.Flags().BoolVar(&resetForce, "force", false, "confirm deletion")
}

// openStore opens the configured state store. The caller closes it.
func openStore(cfg *config.Config) (*state.Store, error) {
	backend, err := state.Open(cfg.State)
	if err != nil {
		return nil, err
	}
	return state.NewStore(backend, cfg.Tuner.PolicyFor), nil
}

// loadDocument reads the stored document. found is false when nothing has
// been saved yet.
func loadDocument(ctx context.Context, store *state.Store) (doc state.Document, found bool, err error) {
	doc, err = store.Load(ctx)
	if errors.Is(err, errors.ErrStateNotFound) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, err
	}
	return doc, true, nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	doc, found, err := loadDocument(cmd.Context(), store)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(cmd.OutOrStdout(), "No stored state at %s\n", store.Backend().Location())
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderState(doc))
	return nil
}

func runStateExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	doc, found, err := loadDocument(cmd.Context(), store)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no stored state at %s", store.Backend().Location())
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	return state.Export(w, doc, exportFormat)
}

func runStateReset(cmd *cobra.Command, args []string) error {
	if !resetForce {
		return fmt.Errorf("refusing to delete learned state without --force")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Clear(cmd.Context()); err != nil {
		if errors.Is(err, errors.ErrStateLocked) {
			return fmt.Errorf("%s is in use by another pacer process; stop it and retry", store.Backend().Location())
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared learned state at %s\n", store.Backend().Location())
	return nil
}
