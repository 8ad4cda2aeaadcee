package cmd

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the health endpoint of a running radard instance",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "radard server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
	resp, err := client.Get(statusServer + "/api/v1/health")
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", statusServer, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Uptime  string `json:"uptime"`
		Ingest  struct {
			Enabled             bool   `json:"enabled"`
			LastFetchAt         string `json:"last_fetch_at"`
			LastTimestamp       string `json:"last_timestamp"`
			BatchesStored       int64  `json:"batches_stored"`
			ConsecutiveFailures int    `json:"consecutive_failures"`
			LastError           string `json:"last_error"`
		} `json:"ingest"`
		Database struct {
			Driver      string `json:"driver"`
			Status      string `json:"status"`
			SizeBytes   int64  `json:"size_bytes"`
			TotalPoints int64  `json:"total_points"`
		} `json:"database"`
		LiveSubscribers int `json:"live_subscribers"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&health); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	// Human-readable output.
	fmt.Printf("radard %s\n", health.Version)
	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Uptime: %s\n", health.Uptime)
	fmt.Println()

	if health.Ingest.Enabled {
		fmt.Println("Ingest:")
		fmt.Printf("  Batches stored: %d\n", health.Ingest.BatchesStored)
		if health.Ingest.LastTimestamp != "" {
			fmt.Printf("  Latest snapshot: %s\n", health.Ingest.LastTimestamp)
		}
		if health.Ingest.LastFetchAt != "" {
			fmt.Printf("  Last fetch: %s\n", health.Ingest.LastFetchAt)
		}
		if health.Ingest.LastError != "" {
			fmt.Printf("  Last error: %s (%d consecutive failures)\n",
				health.Ingest.LastError, health.Ingest.ConsecutiveFailures)
		}
		fmt.Println()
	}

	fmt.Printf("Database: %s (%s)\n", health.Database.Driver, health.Database.Status)
	if health.Database.SizeBytes > 0 {
		fmt.Printf("  Size: %s\n", formatBytes(health.Database.SizeBytes))
	}
	fmt.Printf("  Observations: %s\n", formatNumber(health.Database.TotalPoints))
	if health.LiveSubscribers > 0 {
		fmt.Printf("Live subscribers: %d\n", health.LiveSubscribers)
	}

	return nil
}

// formatNumber formats an integer with comma separators (e.g., 1,247,832).
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
