// Package cmd builds the kapt command tree.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/kapt/cmd/control"
	"github.com/tphakala/kapt/cmd/serve"
	"github.com/tphakala/kapt/cmd/sources"
	"github.com/tphakala/kapt/internal/conf"
	"github.com/tphakala/kapt/internal/logging"
)

// RootCommand creates and returns the root command.
func RootCommand(version string) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "kapt",
		Short:        "Instant replay screen capture",
		Long:         "kapt keeps a rolling buffer of screen and audio recordings and writes a clip of the last moments on request.",
		Version:      version,
		SilenceUsage: true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		logging.Error("failed to set up flags", "error", err)
	}

	// load reads the configuration once the flags are parsed.
	load := func() (*conf.Settings, error) {
		settings, err := conf.Load(configFile)
		if err != nil {
			return nil, err
		}
		level := logging.ParseLevel(settings.Log.Level)
		if settings.Debug {
			level = slog.LevelDebug
		}
		logging.SetLevel(level)
		return settings, nil
	}

	rootCmd.AddCommand(
		serve.Command(load, version),
		sources.Command(),
	)
	rootCmd.AddCommand(control.Commands(load)...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to the config file (default searches ~/.config/kapt)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
