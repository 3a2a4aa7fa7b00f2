package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "pacer",
	Short: "Frame-budgeted update scheduler with adaptive coalescing",
	Long: `Pacer keeps per-frame work inside a time budget. It coalesces bursts
of events, batches dirty-target updates by priority, defers what does not fit
and learns per-event delays that it persists between runs.

The simulate and watch commands drive the scheduler with a synthetic host.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/pacer/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error, critical)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PACER")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PACER_STATE_BACKEND for state.backend
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadConfig returns the effective, validated configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// newLogger opens the rotating file logger configured in cfg, or a silent one
// when logging is disabled.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewRotatingLogger(cfg.Logging.ResolveDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}
