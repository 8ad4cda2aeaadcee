package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jerome2525/radar-app/internal/ingest"
	"github.com/jerome2525/radar-app/internal/observability"
	"github.com/jerome2525/radar-app/internal/store"
)

// Server is the REST API server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer creates a new API server with all routes registered.
func NewServer(s store.Store, poller *ingest.Poller, hub *Hub, metrics *observability.Metrics, logger *slog.Logger) *Server {
	h := &Handlers{
		Store:     s,
		Poller:    poller,
		Hub:       hub,
		Metrics:   metrics,
		Logger:    logger,
		StartTime: time.Now(),
	}

	mux := http.NewServeMux()

	// API routes.
	mux.HandleFunc("GET /api/v1/radar/latest", h.GetLatest)
	mux.HandleFunc("GET /api/v1/radar/observations", h.GetObservations)
	mux.HandleFunc("GET /api/v1/radar/area", h.GetArea)
	mux.HandleFunc("GET /api/v1/radar/stats", h.GetStats)
	mux.HandleFunc("POST /api/v1/radar/cleanup", h.Cleanup)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	if hub != nil {
		mux.HandleFunc("GET /api/v1/live", hub.Serve)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	// Apply middleware (outermost runs first).
	var handler http.Handler = mux
	handler = ContentType(handler)
	handler = SecurityHeaders(handler)
	handler = CORS("")(handler) // Empty string disables CORS headers.
	handler = Instrument(metrics)(handler)
	handler = Logger(handler)
	handler = RequestID(handler)
	handler = Recovery(handler)

	srv := &http.Server{
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: live connections stay open indefinitely and
		// each websocket write carries its own deadline.
	}

	return &Server{httpServer: srv, handlers: h}
}

// ListenAndServe starts the HTTP server. Blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer.Addr = addr
	slog.Info("api server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SetVersion sets the version string for the health endpoint.
func (s *Server) SetVersion(v string) { s.handlers.Version = v }

// SetStorageInfo sets storage driver and path for the health endpoint.
func (s *Server) SetStorageInfo(driver, path string) {
	s.handlers.StorageDriver = driver
	s.handlers.StoragePath = path
}

// SetRetentionHours sets the default window for the cleanup endpoint and
// the value reported by the stats endpoint.
func (s *Server) SetRetentionHours(hours int) {
	s.handlers.RetentionHours = hours
}
