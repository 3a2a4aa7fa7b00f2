package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or validate pacer configuration",
	Long: `View or validate pacer configuration.

Without arguments, displays the effective configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a config file",
	Long: `Validate a config file. Without an argument, validates the effective
configuration (config file, PACER_* environment and defaults).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with the default settings",
	Long:  `Create a config file at ~/.config/pacer/config.yaml holding every option at its current value.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// settings returns every configuration key viper knows, without the
// command-line-only ones.
func settings() map[string]any {
	all := viper.AllSettings()
	delete(all, "config")
	return all
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(settings())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	var (
		cfg    *config.Config
		err    error
		source = viper.ConfigFileUsed()
	)
	if len(args) == 1 {
		source = args[0]
		cfg, err = config.LoadFile(source)
	} else {
		cfg, err = config.Load()
	}
	if source == "" {
		source = "defaults"
	}

	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d problem(s)\n", source, len(verrs))
		for _, v := range verrs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", v.Error())
		}
		return fmt.Errorf("invalid configuration in %s", source)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", source, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (state backend %s, tuner enabled %t)\n",
		source, cfg.State.Backend, cfg.Tuner.Enabled)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(settings())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	content := append([]byte("# Pacer configuration\n# Every key can also be set as PACER_<SECTION>_<KEY>.\n\n"), data...)
	if err := os.WriteFile(configFile, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	if used := viper.ConfigFileUsed(); used != "" {
		configFile = used
	}
	if _, err := os.Stat(configFile); err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), configFile)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (does not exist)\n", configFile)
	}
	return nil
}
