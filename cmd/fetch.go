package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jerome2525/radar-app/internal/config"
	"github.com/jerome2525/radar-app/internal/ingest"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and store one radar snapshot, then exit",
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	// One-shot invocation, nothing scrapes metrics here.
	poller := ingest.NewPoller(s, ingest.Options{
		SourceURL:      cfg.Ingest.SourceURL,
		RequestTimeout: cfg.Ingest.RequestTimeout,
	}, slog.Default(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := poller.PollOnce(ctx); err != nil {
		return err
	}

	st := poller.Status()
	slog.Info("fetch complete",
		"timestamp", st.LastTimestamp.Format(time.RFC3339),
		"stored", st.BatchesStored > 0,
	)
	return nil
}
