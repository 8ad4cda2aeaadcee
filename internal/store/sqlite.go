package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database, sets file permissions, and runs
// migrations. A migration failure is a schema error and fatal at startup.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Pragmas for performance and safety. WAL keeps concurrent readers
	// unblocked while a batch write is in flight.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if err := os.Chmod(dsn, 0600); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("setting file permissions: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: setting goose dialect: %v", ErrSchema, err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: running migrations: %v", ErrSchema, err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying database connection for migration commands.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, ts time.Time, points []Observation) (*BatchResult, error) {
	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO radar_observations (timestamp, lat, lon, reflectivity, precipitation, color)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing batch insert: %v", ErrWrite, err)
	}
	defer stmt.Close() //nolint:errcheck

	// Rows are inserted individually without a transaction: a bad row must
	// not take down the rest of the batch.
	result := &BatchResult{Timestamp: ts.UTC()}
	for i, p := range points {
		if _, err := stmt.ExecContext(ctx, ts.UTC(), p.Lat, p.Lon, p.Reflectivity, p.Precipitation, p.Color); err != nil {
			result.Failed = append(result.Failed, RowFailure{Index: i, Reason: err.Error()})
			continue
		}
		result.Inserted++
	}

	if len(result.Failed) > 0 {
		slog.Warn("batch stored with row failures",
			"timestamp", ts.UTC().Format(time.RFC3339),
			"inserted", result.Inserted,
			"failed", len(result.Failed),
		)
	}
	return result, nil
}

func (s *SQLiteStore) SaveBatchMeta(ctx context.Context, meta *BatchMeta) error {
	bounds, err := marshalBounds(meta.Bounds)
	if err != nil {
		return fmt.Errorf("%w: encoding bounds: %v", ErrWrite, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO radar_batches (timestamp, source_file, total_points, bounds)
		VALUES (?, ?, ?, ?)`,
		meta.Timestamp.UTC(), nullString(meta.SourceFile), meta.TotalPoints, bounds)
	if err != nil {
		return fmt.Errorf("%w: saving batch metadata: %v", ErrWrite, err)
	}
	return nil
}

func (s *SQLiteStore) GetBatchMeta(ctx context.Context, ts time.Time) (*BatchMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, source_file, total_points, bounds, created_at
		FROM radar_batches
		WHERE timestamp = ?
		ORDER BY created_at DESC
		LIMIT 1`, ts.UTC())

	meta, err := scanBatchMeta(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getting batch metadata: %v", ErrRead, err)
	}
	return meta, nil
}

func (s *SQLiteStore) GetLatest(ctx context.Context) (*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, lat, lon, reflectivity, precipitation, color, created_at
		FROM radar_observations
		WHERE timestamp = (SELECT MAX(timestamp) FROM radar_observations)
		ORDER BY lat, lon`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying latest batch: %v", ErrRead, err)
	}
	defer rows.Close() //nolint:errcheck

	points, err := scanObservations(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	if len(points) == 0 {
		// Empty store, not an empty batch.
		return nil, nil
	}
	return &Batch{Timestamp: points[0].Timestamp, Points: points}, nil
}

func (s *SQLiteStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, lat, lon, reflectivity, precipitation, color, created_at
		FROM radar_observations
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, lat, lon`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: querying time range: %v", ErrRead, err)
	}
	defer rows.Close() //nolint:errcheck

	points, err := scanObservations(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return points, nil
}

func (s *SQLiteStore) GetByBounds(ctx context.Context, q BoundsQuery) ([]Observation, error) {
	query := `
		SELECT timestamp, lat, lon, reflectivity, precipitation, color, created_at
		FROM radar_observations
		WHERE lat >= ? AND lat <= ? AND lon >= ? AND lon <= ?`
	args := []any{q.MinLat, q.MaxLat, q.MinLon, q.MaxLon}
	if q.Timestamp != nil {
		query += ` AND timestamp = ?`
		args = append(args, q.Timestamp.UTC())
	}
	query += ` ORDER BY lat, lon`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying bounds: %v", ErrRead, err)
	}
	defer rows.Close() //nolint:errcheck

	points, err := scanObservations(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return points, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var earliestRaw, latestRaw any
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(timestamp), MAX(timestamp), COUNT(DISTINCT timestamp)
		FROM radar_observations`).Scan(&st.TotalPoints, &earliestRaw, &latestRaw, &st.UniqueTimestamps)
	if err != nil {
		return nil, fmt.Errorf("%w: querying stats: %v", ErrRead, err)
	}

	if earliestRaw != nil {
		t, err := parseTimestamp(earliestRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing earliest: %v", ErrRead, err)
		}
		st.EarliestData = &t
	}
	if latestRaw != nil {
		t, err := parseTimestamp(latestRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing latest: %v", ErrRead, err)
		}
		st.LatestData = &t
	}
	return &st, nil
}

func (s *SQLiteStore) CleanupOldData(ctx context.Context, hoursToKeep int) (int64, error) {
	if hoursToKeep <= 0 {
		hoursToKeep = DefaultRetentionHours
	}
	cutoff := clock.Now().UTC().Add(-time.Duration(hoursToKeep) * time.Hour)

	res, err := s.db.ExecContext(ctx, `DELETE FROM radar_observations WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting expired observations: %v", ErrWrite, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: counting deleted rows: %v", ErrWrite, err)
	}
	return deleted, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Shared helpers ---

type scanner interface {
	Scan(dest ...any) error
}

// parseTimestamp handles both time.Time and string timestamp values from SQLite.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05Z",
			"2006-01-02 15:04:05+00:00",
			"2006-01-02 15:04:05 +0000 UTC",
			"2006-01-02 15:04:05",
			"2006-01-02",
		} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unable to parse timestamp: %q", t)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type: %T", v)
	}
}

func scanObservations(rows *sql.Rows) ([]Observation, error) {
	var result []Observation
	for rows.Next() {
		var obs Observation
		var tsRaw, createdRaw any
		if err := rows.Scan(&tsRaw, &obs.Lat, &obs.Lon, &obs.Reflectivity,
			&obs.Precipitation, &obs.Color, &createdRaw); err != nil {
			return nil, fmt.Errorf("scanning observation: %w", err)
		}
		ts, err := parseTimestamp(tsRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		obs.Timestamp = ts
		if createdRaw != nil {
			if created, err := parseTimestamp(createdRaw); err == nil {
				obs.CreatedAt = created
			}
		}
		result = append(result, obs)
	}
	return result, rows.Err()
}

func scanBatchMeta(row scanner) (*BatchMeta, error) {
	var meta BatchMeta
	var tsRaw, createdRaw any
	var sourceFile, bounds sql.NullString
	if err := row.Scan(&tsRaw, &sourceFile, &meta.TotalPoints, &bounds, &createdRaw); err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(tsRaw)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	meta.Timestamp = ts
	meta.SourceFile = sourceFile.String
	if createdRaw != nil {
		if created, err := parseTimestamp(createdRaw); err == nil {
			meta.CreatedAt = created
		}
	}
	if bounds.Valid && bounds.String != "" {
		var b Bounds
		if err := json.Unmarshal([]byte(bounds.String), &b); err != nil {
			return nil, fmt.Errorf("decoding bounds: %w", err)
		}
		meta.Bounds = &b
	}
	return &meta, nil
}

// marshalBounds serializes the envelope at the persistence edge; a nil
// envelope becomes a NULL column.
func marshalBounds(b *Bounds) (sql.NullString, error) {
	if b == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
