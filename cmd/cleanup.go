package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jerome2525/radar-app/internal/config"
	"github.com/jerome2525/radar-app/internal/retention"
)

var cleanupHours int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete observations older than the retention window, then exit",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupHours, "hours", 0, "hours of data to keep (overrides config)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	hours := cfg.Retention.Hours
	if cleanupHours > 0 {
		hours = cleanupHours
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	reaper := retention.NewReaper(s, hours, slog.Default(), nil)
	deleted, err := reaper.Run(ctx)
	if err != nil {
		return err
	}

	slog.Info("cleanup complete", "deleted", deleted, "hours_kept", hours)
	return nil
}
