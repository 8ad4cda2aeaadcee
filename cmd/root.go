package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile   string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "radard",
	Short: "Radar reflectivity data store and API",
	Long: `radard polls an upstream radar feed for reflectivity snapshots, classifies
each point into a precipitation category, and stores the batches in SQLite or
PostgreSQL. It exposes a REST API for the latest frame, time-range and
bounding-box queries, and pushes live batch notices over WebSocket. Old
observations are pruned on a configurable retention schedule.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (text or json)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
