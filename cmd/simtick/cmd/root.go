// Package cmd provides the command-line interface for simtick.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logPath    string
	debug      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "simtick",
	Short: "simtick runs and inspects the tick engine of the simulation.",
	Long: `simtick runs and inspects the timing and execution engine behind ` +
		`the business simulation. It can drive a demo economy on the ` +
		`fixed-timestep loop or benchmark offline batch catch-up.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Environment overrides are optional; a missing .env is fine.
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-file", "",
		"path to a rotated log file (console logging is always on)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug logging")
}
