package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed pgmigrations/*.sql
var pgMigrations embed.FS

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a PostgreSQL connection and runs migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	goose.SetBaseFS(pgMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: setting goose dialect: %v", ErrSchema, err)
	}
	if err := goose.Up(db, "pgmigrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: running migrations: %v", ErrSchema, err)
	}

	return &PostgresStore{db: db}, nil
}

// DB returns the underlying database connection for migration commands.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) SaveBatch(ctx context.Context, ts time.Time, points []Observation) (*BatchResult, error) {
	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO radar_observations (timestamp, lat, lon, reflectivity, precipitation, color)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing batch insert: %v", ErrWrite, err)
	}
	defer stmt.Close() //nolint:errcheck

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

func (s *PostgresStore) SaveBatchMeta(ctx context.Context, meta *BatchMeta) error {
	bounds, err := marshalBounds(meta.Bounds)
	if err != nil {
		return fmt.Errorf("%w: encoding bounds: %v", ErrWrite, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO radar_batches (timestamp, source_file, total_points, bounds)
		VALUES ($1, $2, $3, $4)`,
		meta.Timestamp.UTC(), nullString(meta.SourceFile), meta.TotalPoints, bounds)
	if err != nil {
		return fmt.Errorf("%w: saving batch metadata: %v", ErrWrite, err)
	}
	return nil
}

func (s *PostgresStore) GetBatchMeta(ctx context.Context, ts time.Time) (*BatchMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, source_file, total_points, bounds, created_at
		FROM radar_batches
		WHERE timestamp = $1
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

func (s *PostgresStore) GetLatest(ctx context.Context) (*Batch, error) {
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
		return nil, nil
	}
	return &Batch{Timestamp: points[0].Timestamp, Points: points}, nil
}

func (s *PostgresStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, lat, lon, reflectivity, precipitation, color, created_at
		FROM radar_observations
		WHERE timestamp >= $1 AND timestamp <= $2
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

func (s *PostgresStore) GetByBounds(ctx context.Context, q BoundsQuery) ([]Observation, error) {
	query := `
		SELECT timestamp, lat, lon, reflectivity, precipitation, color, created_at
		FROM radar_observations
		WHERE lat >= $1 AND lat <= $2 AND lon >= $3 AND lon <= $4`
	args := []any{q.MinLat, q.MaxLat, q.MinLon, q.MaxLon}
	if q.Timestamp != nil {
		query += ` AND timestamp = $5`
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

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var earliest, latest *time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(timestamp), MAX(timestamp), COUNT(DISTINCT timestamp)
		FROM radar_observations`).Scan(&st.TotalPoints, &earliest, &latest, &st.UniqueTimestamps)
	if err != nil {
		return nil, fmt.Errorf("%w: querying stats: %v", ErrRead, err)
	}
	st.EarliestData = earliest
	st.LatestData = latest
	return &st, nil
}

func (s *PostgresStore) CleanupOldData(ctx context.Context, hoursToKeep int) (int64, error) {
	if hoursToKeep <= 0 {
		hoursToKeep = DefaultRetentionHours
	}
	cutoff := clock.Now().UTC().Add(-time.Duration(hoursToKeep) * time.Hour)

	res, err := s.db.ExecContext(ctx, `DELETE FROM radar_observations WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting expired observations: %v", ErrWrite, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: counting deleted rows: %v", ErrWrite, err)
	}
	return deleted, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
