package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/jerome2525/radar-app/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	observations []store.Observation
	meta         map[time.Time]*store.BatchMeta
	now          time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		meta: make(map[time.Time]*store.BatchMeta),
		now:  time.Now().UTC(),
	}
}

func (m *mockStore) SaveBatch(_ context.Context, ts time.Time, points []store.Observation) (*store.BatchResult, error) {
	for _, p := range points {
		p.Timestamp = ts
		m.observations = append(m.observations, p)
	}
	return &store.BatchResult{Timestamp: ts, Inserted: len(points)}, nil
}

func (m *mockStore) SaveBatchMeta(_ context.Context, meta *store.BatchMeta) error {
	m.meta[meta.Timestamp] = meta
	return nil
}

func (m *mockStore) GetBatchMeta(_ context.Context, ts time.Time) (*store.BatchMeta, error) {
	return m.meta[ts], nil
}

func (m *mockStore) GetLatest(_ context.Context) (*store.Batch, error) {
	var latest time.Time
	for _, o := range m.observations {
		if o.Timestamp.After(latest) {
			latest = o.Timestamp
		}
	}
	if latest.IsZero() {
		return nil, nil
	}
	var points []store.Observation
	for _, o := range m.observations {
		if o.Timestamp.Equal(latest) {
			points = append(points, o)
		}
	}
	sortByCoords(points)
	return &store.Batch{Timestamp: latest, Points: points}, nil
}

func (m *mockStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]store.Observation, error) {
	var result []store.Observation
	for _, o := range m.observations {
		if !o.Timestamp.Before(start) && !o.Timestamp.After(end) {
			result = append(result, o)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result, nil
}

func (m *mockStore) GetByBounds(_ context.Context, q store.BoundsQuery) ([]store.Observation, error) {
	var result []store.Observation
	for _, o := range m.observations {
		if o.Lat < q.MinLat || o.Lat > q.MaxLat || o.Lon < q.MinLon || o.Lon > q.MaxLon {
			continue
		}
		if q.Timestamp != nil && !o.Timestamp.Equal(*q.Timestamp) {
			continue
		}
		result = append(result, o)
	}
	sortByCoords(result)
	return result, nil
}

func (m *mockStore) Stats(_ context.Context) (*store.Stats, error) {
	s := &store.Stats{TotalPoints: int64(len(m.observations))}
	seen := make(map[time.Time]bool)
	for _, o := range m.observations {
		if !seen[o.Timestamp] {
			seen[o.Timestamp] = true
			s.UniqueTimestamps++
		}
		if s.EarliestData == nil || o.Timestamp.Before(*s.EarliestData) {
			t := o.Timestamp
			s.EarliestData = &t
		}
		if s.LatestData == nil || o.Timestamp.After(*s.LatestData) {
			t := o.Timestamp
			s.LatestData = &t
		}
	}
	return s, nil
}

func (m *mockStore) CleanupOldData(_ context.Context, hoursToKeep int) (int64, error) {
	cutoff := m.now.Add(-time.Duration(hoursToKeep) * time.Hour)
	var kept []store.Observation
	var deleted int64
	for _, o := range m.observations {
		if o.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, o)
	}
	m.observations = kept
	return deleted, nil
}

func (m *mockStore) Close() error { return nil }

func sortByCoords(obs []store.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].Lat != obs[j].Lat {
			return obs[i].Lat < obs[j].Lat
		}
		return obs[i].Lon < obs[j].Lon
	})
}

func setupTestServer(ms *mockStore) *httptest.Server {
	h := &Handlers{
		Store:          ms,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		StartTime:      time.Now(),
		StorageDriver:  "sqlite",
		RetentionHours: 24,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/radar/latest", h.GetLatest)
	mux.HandleFunc("GET /api/v1/radar/observations", h.GetObservations)
	mux.HandleFunc("GET /api/v1/radar/area", h.GetArea)
	mux.HandleFunc("GET /api/v1/radar/stats", h.GetStats)
	mux.HandleFunc("POST /api/v1/radar/cleanup", h.Cleanup)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	return httptest.NewServer(ContentType(mux))
}

func seedMock(ms *mockStore, ts time.Time, points ...store.Observation) {
	_, _ = ms.SaveBatch(context.Background(), ts, points)
}

func TestHandlers_Health(t *testing.T) {
	ms := newMockStore()
	srv := setupTestServer(ms)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want 'healthy'", body["status"])
	}
	db, ok := body["database"].(map[string]any)
	if !ok {
		t.Fatal("expected database section in health response")
	}
	if db["driver"] != "sqlite" {
		t.Errorf("database.driver = %v, want 'sqlite'", db["driver"])
	}
}

func TestHandlers_GetLatest(t *testing.T) {
	ts := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		ms := newMockStore()
		seedMock(ms, ts,
			store.Observation{Lat: 35.4, Lon: -97.3, Reflectivity: 20, Precipitation: "moderate", Color: "#019FF4"},
			store.Observation{Lat: 35.2, Lon: -97.5, Reflectivity: 45, Precipitation: "very_heavy", Color: "#FD9500"},
		)
		_ = ms.SaveBatchMeta(context.Background(), &store.BatchMeta{
			Timestamp:   ts,
			SourceFile:  "KTLX_20260823_1200.nc",
			TotalPoints: 2,
			Bounds:      &store.Bounds{MinLat: 35, MaxLat: 36, MinLon: -98, MaxLon: -97},
		})

		srv := setupTestServer(ms)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/v1/radar/latest")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body["total_points"] != float64(2) {
			t.Errorf("total_points = %v, want 2", body["total_points"])
		}
		if body["source_file"] != "KTLX_20260823_1200.nc" {
			t.Errorf("source_file = %v, want KTLX_20260823_1200.nc", body["source_file"])
		}
		points, ok := body["points"].([]any)
		if !ok || len(points) != 2 {
			t.Fatalf("expected 2 points, got %v", body["points"])
		}
		first, _ := points[0].(map[string]any)
		if first["lat"] != 35.2 {
			t.Errorf("points not ordered by lat: first lat = %v, want 35.2", first["lat"])
		}
		if first["precipitation"] != "very_heavy" {
			t.Errorf("precipitation = %v, want 'very_heavy'", first["precipitation"])
		}
	})

	t.Run("empty store", func(t *testing.T) {
		srv := setupTestServer(newMockStore())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/v1/radar/latest")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body["error"] != "no radar data" {
			t.Errorf("error = %v, want 'no radar data'", body["error"])
		}
	})
}

func TestHandlers_GetObservations(t *testing.T) {
	ms := newMockStore()
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		seedMock(ms, base.Add(time.Duration(i)*10*time.Minute),
			store.Observation{Lat: 35.2, Lon: -97.5, Reflectivity: 30},
		)
	}

	srv := setupTestServer(ms)
	defer srv.Close()

	t.Run("valid range", func(t *testing.T) {
		url := srv.URL + "/api/v1/radar/observations?start=2026-08-23T12:00:00Z&end=2026-08-23T12:20:00Z"
		resp, err := http.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		obs, ok := body["observations"].([]any)
		if !ok {
			t.Fatal("expected observations array in envelope response")
		}
		// Range is inclusive on both ends.
		if len(obs) != 3 {
			t.Errorf("got %d observations, want 3", len(obs))
		}
		if body["total"] != float64(3) {
			t.Errorf("total = %v, want 3", body["total"])
		}
	})

	t.Run("newest first", func(t *testing.T) {
		url := srv.URL + "/api/v1/radar/observations?start=2026-08-23T12:00:00Z&end=2026-08-23T13:00:00Z"
		resp, err := http.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		obs, _ := body["observations"].([]any)
		if len(obs) != 5 {
			t.Fatalf("got %d observations, want 5", len(obs))
		}
		first, _ := obs[0].(map[string]any)
		if first["timestamp"] != "2026-08-23T12:40:00Z" {
			t.Errorf("first timestamp = %v, want newest", first["timestamp"])
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		url := srv.URL + "/api/v1/radar/observations?start=2026-08-23&end=2026-08-24&limit=2&offset=1"
		resp, err := http.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		obs, _ := body["observations"].([]any)
		if len(obs) != 2 {
			t.Errorf("got %d observations, want 2", len(obs))
		}
		if body["total"] != float64(5) {
			t.Errorf("total = %v, want 5", body["total"])
		}
	})

	t.Run("missing start", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/radar/observations?end=2026-08-24")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("start after end", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/radar/observations?start=2026-08-24&end=2026-08-23")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("invalid time format", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/radar/observations?start=yesterday&end=2026-08-24")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})
}

func TestHandlers_GetArea(t *testing.T) {
	ms := newMockStore()
	ts := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	seedMock(ms, ts,
		store.Observation{Lat: 35.2, Lon: -97.5, Reflectivity: 45},
		store.Observation{Lat: 40.0, Lon: -80.0, Reflectivity: 20},
	)

	srv := setupTestServer(ms)
	defer srv.Close()

	t.Run("filters by box", func(t *testing.T) {
		url := srv.URL + "/api/v1/radar/area?min_lat=35&max_lat=36&min_lon=-98&max_lon=-97"
		resp, err := http.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body["total"] != float64(1) {
			t.Errorf("total = %v, want 1", body["total"])
		}
	})

	t.Run("with timestamp filter", func(t *testing.T) {
		url := srv.URL + "/api/v1/radar/area?min_lat=-90&max_lat=90&min_lon=-180&max_lon=180&timestamp=2026-08-23T12:00:00Z"
		resp, err := http.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body["total"] != float64(2) {
			t.Errorf("total = %v, want 2", body["total"])
		}
		if body["timestamp"] != "2026-08-23T12:00:00Z" {
			t.Errorf("timestamp = %v, want echo of filter", body["timestamp"])
		}
	})

	t.Run("empty box is valid", func(t *testing.T) {
		url := srv.URL + "/api/v1/radar/area?min_lat=10&max_lat=11&min_lon=10&max_lon=11"
		resp, err := http.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body["total"] != float64(0) {
			t.Errorf("total = %v, want 0", body["total"])
		}
	})

	t.Run("missing parameter", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/radar/area?min_lat=35&max_lat=36&min_lon=-98")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("latitude out of range", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/radar/area?min_lat=-95&max_lat=36&min_lon=-98&max_lon=-97")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("inverted bounds", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/radar/area?min_lat=40&max_lat=35&min_lon=-98&max_lon=-97")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})
}

func TestHandlers_GetStats(t *testing.T) {
	ms := newMockStore()
	seedMock(ms, time.Date(2026, 8, 23, 11, 0, 0, 0, time.UTC),
		store.Observation{Lat: 35.2, Lon: -97.5},
	)
	seedMock(ms, time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		store.Observation{Lat: 35.2, Lon: -97.5},
		store.Observation{Lat: 35.4, Lon: -97.3},
	)

	srv := setupTestServer(ms)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/radar/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["total_points"] != float64(3) {
		t.Errorf("total_points = %v, want 3", body["total_points"])
	}
	if body["unique_timestamps"] != float64(2) {
		t.Errorf("unique_timestamps = %v, want 2", body["unique_timestamps"])
	}
	if body["retention_hours"] != float64(24) {
		t.Errorf("retention_hours = %v, want 24", body["retention_hours"])
	}
	if body["earliest_data"] != "2026-08-23T11:00:00Z" {
		t.Errorf("earliest_data = %v, want 2026-08-23T11:00:00Z", body["earliest_data"])
	}
}

func TestHandlers_Cleanup(t *testing.T) {
	newSeeded := func() *mockStore {
		ms := newMockStore()
		seedMock(ms, ms.now.Add(-48*time.Hour), store.Observation{Lat: 35.2, Lon: -97.5})
		seedMock(ms, ms.now.Add(-1*time.Hour), store.Observation{Lat: 35.2, Lon: -97.5})
		return ms
	}

	t.Run("default window", func(t *testing.T) {
		srv := setupTestServer(newSeeded())
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/v1/radar/cleanup", "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body["deleted"] != float64(1) {
			t.Errorf("deleted = %v, want 1", body["deleted"])
		}
		if body["hours_kept"] != float64(24) {
			t.Errorf("hours_kept = %v, want 24", body["hours_kept"])
		}
	})

	t.Run("explicit hours", func(t *testing.T) {
		srv := setupTestServer(newSeeded())
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/v1/radar/cleanup?hours=72", "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body["deleted"] != float64(0) {
			t.Errorf("deleted = %v, want 0", body["deleted"])
		}
	})

	t.Run("invalid hours", func(t *testing.T) {
		srv := setupTestServer(newSeeded())
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/v1/radar/cleanup?hours=-4", "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2026-08-23T12:00:00Z", time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC), false},
		{"date only", "2026-08-23", time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC), false},
		{"unix epoch", "1787486400", time.Unix(1787486400, 0).UTC(), false},
		{"garbage", "last tuesday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
