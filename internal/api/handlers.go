package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jerome2525/radar-app/internal/ingest"
	"github.com/jerome2525/radar-app/internal/observability"
	"github.com/jerome2525/radar-app/internal/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Store          store.Store
	Poller         *ingest.Poller
	Hub            *Hub
	Metrics        *observability.Metrics
	Logger         *slog.Logger
	StartTime      time.Time
	StorageDriver  string
	StoragePath    string
	RetentionHours int
	Version        string
}

// apiError is a JSON error response.
type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg, Code: status})
}

func parseTime(s string) (time.Time, error) {
	// Try RFC3339 first, then YYYY-MM-DD, then Unix epoch.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format: %q (expected RFC3339, YYYY-MM-DD, or Unix epoch)", s)
}

func parseLatLon(r *http.Request, name string, min, max float64) (float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, fmt.Errorf("missing %q parameter", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %q parameter", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%q must be between %g and %g", name, min, max)
	}
	return v, nil
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// obsToMap converts an Observation to a map with snake_case keys for JSON
// responses. store.Observation has no JSON tags, so fields are mapped
// explicitly.
func obsToMap(obs *store.Observation) map[string]any {
	return map[string]any{
		"timestamp":     obs.Timestamp,
		"lat":           obs.Lat,
		"lon":           obs.Lon,
		"reflectivity":  obs.Reflectivity,
		"precipitation": obs.Precipitation,
		"color":         obs.Color,
	}
}

// GetLatest handles GET /api/v1/radar/latest
func (h *Handlers) GetLatest(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Store.GetLatest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get latest radar data")
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "no radar data")
		return
	}

	resp := map[string]any{
		"timestamp":    batch.Timestamp,
		"total_points": len(batch.Points),
	}

	points := make([]map[string]any, len(batch.Points))
	for i := range batch.Points {
		points[i] = obsToMap(&batch.Points[i])
	}
	resp["points"] = points

	// Enrich with batch metadata when it exists.
	if meta, err := h.Store.GetBatchMeta(r.Context(), batch.Timestamp); err == nil && meta != nil {
		if meta.SourceFile != "" {
			resp["source_file"] = meta.SourceFile
		}
		if meta.Bounds != nil {
			resp["bounds"] = meta.Bounds
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetObservations handles GET /api/v1/radar/observations
func (h *Handlers) GetObservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	startStr := q.Get("start")
	if startStr == "" {
		writeError(w, http.StatusBadRequest, "missing 'start' parameter")
		return
	}
	start, err := parseTime(startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'start' parameter (RFC3339 or YYYY-MM-DD)")
		return
	}

	endStr := q.Get("end")
	if endStr == "" {
		writeError(w, http.StatusBadRequest, "missing 'end' parameter")
		return
	}
	end, err := parseTime(endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'end' parameter (RFC3339 or YYYY-MM-DD)")
		return
	}

	if start.After(end) {
		writeError(w, http.StatusBadRequest, "'start' must not be after 'end'")
		return
	}

	// Parse limit and offset.
	limit := 1000
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10000 {
			limit = n
		}
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	obs, err := h.Store.GetByTimeRange(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get observations")
		return
	}

	total := len(obs)

	// Apply limit/offset.
	if offset > 0 && offset < len(obs) {
		obs = obs[offset:]
	} else if offset >= len(obs) {
		obs = nil
	}
	if limit > 0 && limit < len(obs) {
		obs = obs[:limit]
	}

	result := make([]map[string]any, len(obs))
	for i := range obs {
		result[i] = obsToMap(&obs[i])
	}

	type obsResponse struct {
		Start        string           `json:"start"`
		End          string           `json:"end"`
		Total        int              `json:"total"`
		Limit        int              `json:"limit"`
		Offset       int              `json:"offset"`
		Observations []map[string]any `json:"observations"`
	}

	writeJSON(w, http.StatusOK, obsResponse{
		Start:        start.Format(time.RFC3339),
		End:          end.Format(time.RFC3339),
		Total:        total,
		Limit:        limit,
		Offset:       offset,
		Observations: result,
	})
}

// GetArea handles GET /api/v1/radar/area
func (h *Handlers) GetArea(w http.ResponseWriter, r *http.Request) {
	minLat, err := parseLatLon(r, "min_lat", -90, 90)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxLat, err := parseLatLon(r, "max_lat", -90, 90)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minLon, err := parseLatLon(r, "min_lon", -180, 180)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxLon, err := parseLatLon(r, "max_lon", -180, 180)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if minLat > maxLat {
		writeError(w, http.StatusBadRequest, "'min_lat' must not exceed 'max_lat'")
		return
	}
	if minLon > maxLon {
		writeError(w, http.StatusBadRequest, "'min_lon' must not exceed 'max_lon'")
		return
	}

	query := store.BoundsQuery{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}

	if v := r.URL.Query().Get("timestamp"); v != "" {
		ts, err := parseTime(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'timestamp' parameter (RFC3339 or YYYY-MM-DD)")
			return
		}
		query.Timestamp = &ts
	}

	obs, err := h.Store.GetByBounds(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get observations")
		return
	}

	result := make([]map[string]any, len(obs))
	for i := range obs {
		result[i] = obsToMap(&obs[i])
	}

	resp := map[string]any{
		"bounds": store.Bounds{
			MinLat: minLat,
			MaxLat: maxLat,
			MinLon: minLon,
			MaxLon: maxLon,
		},
		"total":        len(obs),
		"observations": result,
	}
	if query.Timestamp != nil {
		resp["timestamp"] = query.Timestamp.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetStats handles GET /api/v1/radar/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	type statsResponse struct {
		TotalPoints      int64      `json:"total_points"`
		EarliestData     *time.Time `json:"earliest_data"`
		LatestData       *time.Time `json:"latest_data"`
		UniqueTimestamps int64      `json:"unique_timestamps"`
		RetentionHours   int        `json:"retention_hours"`
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TotalPoints:      stats.TotalPoints,
		EarliestData:     stats.EarliestData,
		LatestData:       stats.LatestData,
		UniqueTimestamps: stats.UniqueTimestamps,
		RetentionHours:   h.RetentionHours,
	})
}

// Cleanup handles POST /api/v1/radar/cleanup
func (h *Handlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	hours := h.RetentionHours
	if hours <= 0 {
		hours = store.DefaultRetentionHours
	}
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "'hours' must be a positive integer")
			return
		}
		hours = n
	}

	deleted, err := h.Store.CleanupOldData(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clean up old data")
		return
	}

	if h.Metrics != nil {
		h.Metrics.RetentionDeleted.Add(float64(deleted))
	}
	h.Logger.Info("manual cleanup", "deleted", deleted, "hours_kept", hours)

	type cleanupResponse struct {
		Deleted   int64 `json:"deleted"`
		HoursKept int   `json:"hours_kept"`
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Deleted: deleted, HoursKept: hours})
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type ingestHealth struct {
		Enabled             bool   `json:"enabled"`
		LastFetchAt         string `json:"last_fetch_at,omitempty"`
		LastTimestamp       string `json:"last_timestamp,omitempty"`
		BatchesStored       int64  `json:"batches_stored"`
		ConsecutiveFailures int    `json:"consecutive_failures"`
		LastError           string `json:"last_error,omitempty"`
	}
	type dbHealth struct {
		Driver      string `json:"driver"`
		Status      string `json:"status"`
		SizeBytes   int64  `json:"size_bytes,omitempty"`
		TotalPoints int64  `json:"total_points"`
	}
	type healthResponse struct {
		Status          string       `json:"status"`
		Version         string       `json:"version"`
		Uptime          string       `json:"uptime"`
		Ingest          ingestHealth `json:"ingest"`
		Database        dbHealth     `json:"database"`
		LiveSubscribers int          `json:"live_subscribers"`
	}

	resp := healthResponse{
		Status:  "healthy",
		Version: h.Version,
		Uptime:  formatUptime(time.Since(h.StartTime)),
	}

	if h.Poller != nil {
		st := h.Poller.Status()
		resp.Ingest = ingestHealth{
			Enabled:             true,
			BatchesStored:       st.BatchesStored,
			ConsecutiveFailures: st.ConsecutiveFailures,
			LastError:           st.LastError,
		}
		if !st.LastFetchAt.IsZero() {
			resp.Ingest.LastFetchAt = st.LastFetchAt.Format(time.RFC3339)
		}
		if !st.LastTimestamp.IsZero() {
			resp.Ingest.LastTimestamp = st.LastTimestamp.Format(time.RFC3339)
		}
		if st.ConsecutiveFailures >= 3 {
			resp.Status = "degraded"
		}
	}

	resp.Database = dbHealth{
		Driver: h.StorageDriver,
		Status: "ok",
	}
	if stats, err := h.Store.Stats(r.Context()); err == nil {
		resp.Database.TotalPoints = stats.TotalPoints
	} else {
		resp.Database.Status = "error"
		resp.Status = "degraded"
	}
	// Path omitted to avoid exposing filesystem details.
	if h.StorageDriver == "sqlite" && h.StoragePath != "" {
		if info, err := os.Stat(h.StoragePath); err == nil {
			resp.Database.SizeBytes = info.Size()
		}
	}

	if h.Hub != nil {
		resp.LiveSubscribers = h.Hub.SubscriberCount()
	}

	writeJSON(w, http.StatusOK, resp)
}
