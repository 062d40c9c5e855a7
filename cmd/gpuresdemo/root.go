package main

import (
	"log/slog"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/gogpu/gpures"
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&doCPUProfile, "cpu", false, "Enable CPU profiling")
	rootCmd.PersistentFlags().BoolVar(&doMemoryProfile, "memory", false, "Enable memory profiling")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
}

var rootCmd = &cobra.Command{
	Use:           "gpuresdemo",
	Short:         "Drive the gpures resource layer and report its metrics",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		gpures.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		// Only one profile mode can be active at a time.
		switch {
		case doCPUProfile:
			activeProfile = profile.Start(profile.CPUProfile)
		case doMemoryProfile:
			activeProfile = profile.Start(profile.MemProfile)
		}
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if activeProfile != nil {
			activeProfile.Stop()
		}
	},
}

var (
	verbose         bool
	doCPUProfile    bool
	doMemoryProfile bool
	activeProfile   interface{ Stop() }
	configPath      string
)

// loadConfig returns the configuration named by --config, or the defaults.
func loadConfig() (gpures.Config, error) {
	if configPath == "" {
		return gpures.DefaultConfig(), nil
	}
	return gpures.LoadConfig(configPath)
}
