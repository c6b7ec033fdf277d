package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/icco/abcd/internal/config"
	"github.com/icco/abcd/internal/logging"
)

var (
	configPath string
	logLevel   string
	fileCfg    config.FileConfig
)

var rootCmd = &cobra.Command{
	Use:   "abcd",
	Short: "A TUI practice trainer for learning songs in ABCD phases",
	Long: `abcd is a Terminal User Interface (TUI) practice trainer built with Bubbletea.

It loops a section of a track through four phases (Attention, Base, Challenge,
Destination) at increasing speed, with timed countdown breaks, a metronome that
follows the track's tempo, and offline pitch shifting.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		fileCfg = cfg
		applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
		logging.Setup(os.Stderr, logLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
