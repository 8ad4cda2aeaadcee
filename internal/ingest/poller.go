package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jerome2525/radar-app/internal/observability"
	"github.com/jerome2525/radar-app/internal/store"
)

const maxSnapshotBytes = 50 << 20

// BatchNotice announces a newly stored batch to live subscribers.
type BatchNotice struct {
	Timestamp   time.Time `json:"timestamp"`
	TotalPoints int       `json:"total_points"`
	SourceFile  string    `json:"source_file,omitempty"`
}

// Notifier receives a notice after each successfully stored batch.
type Notifier interface {
	Publish(notice BatchNotice)
}

// Status tracks the state of the upstream polling loop for the health endpoint.
type Status struct {
	LastFetchAt         time.Time `json:"last_fetch_at,omitzero"`
	LastTimestamp       time.Time `json:"last_timestamp,omitzero"`
	BatchesStored       int64     `json:"batches_stored"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Options configures a Poller.
type Options struct {
	SourceURL      string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Notifier       Notifier // may be nil
}

// Poller fetches radar snapshots from an upstream provider on a fixed
// interval, classifies the points, and stores them as one batch.
type Poller struct {
	store   store.Store
	client  *http.Client
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	status Status
}

// NewPoller creates a Poller. The store handle is shared, injected state;
// the poller never opens its own.
func NewPoller(s store.Store, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Poller{
		store:   s,
		client:  &http.Client{Timeout: opts.RequestTimeout},
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// snapshot is the upstream feed payload.
type snapshot struct {
	Timestamp  time.Time     `json:"timestamp"`
	SourceFile string        `json:"source_file"`
	Bounds     *store.Bounds `json:"bounds"`
	Points     []rawPoint    `json:"points"`
}

type rawPoint struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Reflectivity float64 `json:"reflectivity"`
}

const retryBaseDelay = 5 * time.Second

// Run polls until the context is cancelled. The first poll happens
// immediately. After a failure the next attempt is scheduled with
// exponential backoff, capped at the regular poll interval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		"source_url", p.opts.SourceURL,
		"interval", p.opts.PollInterval,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return nil
		case <-timer.C:
			err := p.PollOnce(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.Error("poll failed", "error", err)
			}
			timer.Reset(p.nextDelay())
		}
	}
}

// nextDelay returns the wait before the next poll: the configured interval
// after a success, exponential backoff after consecutive failures.
func (p *Poller) nextDelay() time.Duration {
	p.mu.RLock()
	failures := p.status.ConsecutiveFailures
	p.mu.RUnlock()

	if failures == 0 {
		return p.opts.PollInterval
	}
	delay := retryBaseDelay << (failures - 1)
	if delay > p.opts.PollInterval || delay <= 0 {
		return p.opts.PollInterval
	}
	return delay
}

// PollOnce fetches one snapshot and stores it. A snapshot whose timestamp
// matches the stored latest is skipped: the upstream feed repeats the same
// frame until a new scan is published.
func (p *Poller) PollOnce(ctx context.Context) error {
	start := time.Now()

	snap, err := p.fetch(ctx)
	if err != nil {
		p.recordFailure(err)
		return err
	}

	stats, err := p.store.Stats(ctx)
	if err != nil {
		p.recordFailure(err)
		return fmt.Errorf("checking stored latest: %w", err)
	}
	if stats.LatestData != nil && stats.LatestData.Equal(snap.Timestamp) {
		p.logger.Debug("snapshot unchanged, skipping",
			"timestamp", snap.Timestamp.Format(time.RFC3339))
		p.recordSuccess(snap.Timestamp, false)
		return nil
	}

	points := make([]store.Observation, len(snap.Points))
	for i, rp := range snap.Points {
		category, color := Classify(rp.Reflectivity)
		points[i] = store.Observation{
			Lat:           rp.Lat,
			Lon:           rp.Lon,
			Reflectivity:  rp.Reflectivity,
			Precipitation: category,
			Color:         color,
		}
	}

	result, err := p.store.SaveBatch(ctx, snap.Timestamp, points)
	if err != nil {
		p.recordFailure(err)
		return fmt.Errorf("storing batch: %w", err)
	}

	meta := &store.BatchMeta{
		Timestamp:   snap.Timestamp,
		SourceFile:  snap.SourceFile,
		TotalPoints: result.Inserted,
		Bounds:      snap.Bounds,
	}
	if err := p.store.SaveBatchMeta(ctx, meta); err != nil {
		p.recordFailure(err)
		return fmt.Errorf("storing batch metadata: %w", err)
	}

	if p.metrics != nil {
		p.metrics.BatchesIngested.Inc()
		p.metrics.PointsIngested.Add(float64(result.Inserted))
		p.metrics.RowInsertFailures.Add(float64(len(result.Failed)))
		p.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}

	p.recordSuccess(snap.Timestamp, true)

	if p.opts.Notifier != nil {
		p.opts.Notifier.Publish(BatchNotice{
			Timestamp:   snap.Timestamp,
			TotalPoints: result.Inserted,
			SourceFile:  snap.SourceFile,
		})
	}

	p.logger.Info("stored radar batch",
		"timestamp", snap.Timestamp.Format(time.RFC3339),
		"points", result.Inserted,
		"failed_rows", len(result.Failed),
		"source_file", snap.SourceFile,
	)
	return nil
}

func (p *Poller) fetch(ctx context.Context) (*snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %s", resp.Status)
	}

	var snap snapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSnapshotBytes)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.Timestamp.IsZero() {
		return nil, fmt.Errorf("snapshot has no timestamp")
	}
	// Second granularity keeps timestamps stable across the storage round trip.
	snap.Timestamp = snap.Timestamp.UTC().Truncate(time.Second)
	return &snap, nil
}

func (p *Poller) recordSuccess(ts time.Time, stored bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastFetchAt = time.Now().UTC()
	p.status.LastTimestamp = ts
	p.status.ConsecutiveFailures = 0
	p.status.LastError = ""
	if stored {
		p.status.BatchesStored++
	}
}

func (p *Poller) recordFailure(err error) {
	if p.metrics != nil {
		p.metrics.IngestErrors.Inc()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastFetchAt = time.Now().UTC()
	p.status.ConsecutiveFailures++
	p.status.LastError = err.Error()
}

// Status returns a snapshot of the polling state.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}
