package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// Store defines the interface for radar observation storage.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	// SaveBatch persists every observation in points tagged with ts.
	// Inserts are best-effort: individual row failures are collected in the
	// returned BatchResult instead of failing the call.
	SaveBatch(ctx context.Context, ts time.Time, points []Observation) (*BatchResult, error)

	// SaveBatchMeta inserts exactly one metadata row for an ingested snapshot.
	SaveBatchMeta(ctx context.Context, meta *BatchMeta) error

	// GetBatchMeta retrieves the metadata row for a batch timestamp.
	// Returns nil if no metadata exists for that timestamp.
	GetBatchMeta(ctx context.Context, ts time.Time) (*BatchMeta, error)

	// GetLatest returns every observation belonging to the most recent batch,
	// ordered by (lat, lon) ascending. Returns nil when the store is empty,
	// which is distinct from a batch that happens to contain zero points.
	GetLatest(ctx context.Context) (*Batch, error)

	// GetByTimeRange returns observations with timestamp inclusively between
	// start and end, ordered by timestamp descending, then (lat, lon) ascending.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]Observation, error)

	// GetByBounds returns observations inside the bounding box, optionally
	// restricted to an exact timestamp, ordered by (lat, lon) ascending.
	GetByBounds(ctx context.Context, q BoundsQuery) ([]Observation, error)

	// Stats returns aggregate counts over the observation relation.
	Stats(ctx context.Context) (*Stats, error)

	// CleanupOldData deletes observations with timestamp strictly before
	// now minus hoursToKeep hours and returns the number of rows removed.
	// Batch metadata is never pruned.
	CleanupOldData(ctx context.Context, hoursToKeep int) (int64, error)

	// Close closes the database connection.
	Close() error
}

// DefaultRetentionHours is the retention window applied when the caller
// does not supply one.
const DefaultRetentionHours = 24

// Failure taxonomy. Operations wrap one of these sentinels so callers can
// classify errors with errors.Is. Per-row insert failures inside a batch are
// reported as values in BatchResult, not as errors.
var (
	ErrSchema = errors.New("store: schema setup failed")
	ErrWrite  = errors.New("store: write failed")
	ErrRead   = errors.New("store: read failed")
)

// Observation is one radar reflectivity reading at a point and time.
// Timestamp is the event time of the batch it belongs to; CreatedAt is the
// insertion time.
type Observation struct {
	Timestamp     time.Time
	Lat           float64
	Lon           float64
	Reflectivity  float64
	Precipitation string
	Color         string
	CreatedAt     time.Time
}

// Bounds is the geographic envelope covered by a batch. It is serialized to
// JSON at the persistence edge and returned verbatim on read.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// BatchMeta is one record per ingested snapshot. Timestamp matches the
// shared event time of the batch's observations; nothing enforces that
// association beyond equal values.
type BatchMeta struct {
	Timestamp   time.Time
	SourceFile  string
	TotalPoints int
	Bounds      *Bounds
	CreatedAt   time.Time
}

// Batch is the result of a latest-batch query.
type Batch struct {
	Timestamp time.Time
	Points    []Observation
}

// RowFailure describes a single observation that could not be inserted.
type RowFailure struct {
	Index  int
	Reason string
}

// BatchResult reports the outcome of a best-effort batch write. Callers
// decide their own tolerance for partial failure.
type BatchResult struct {
	Timestamp time.Time
	Inserted  int
	Failed    []RowFailure
}

// BoundsQuery is a rectangular geographic filter with an optional exact
// timestamp restriction. All bounds are inclusive.
type BoundsQuery struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	Timestamp      *time.Time
}

// Stats holds aggregate counts over the observation relation. EarliestData
// and LatestData are nil when the store is empty.
type Stats struct {
	TotalPoints      int64
	EarliestData     *time.Time
	LatestData       *time.Time
	UniqueTimestamps int64
}

// clock is the package time source used for retention cutoffs. Tests freeze
// time via SetClock for deterministic cleanup behavior.
var clock clockwork.Clock = clockwork.NewRealClock()

// SetClock swaps the time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
