package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the reaper on a cron schedule. An empty schedule disables
// automatic cleanup; the cleanup endpoint and command remain available.
type Scheduler struct {
	reaper   *Reaper
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler driving the reaper on a standard
// five-field cron expression, e.g. "0 * * * *" for hourly.
func NewScheduler(reaper *Reaper, schedule string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reaper:   reaper,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start validates the schedule and begins running the reaper. It returns
// immediately; cleanup passes run on the cron goroutine until the context
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("retention schedule not configured, automatic cleanup disabled")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.reaper.Run(ctx); err != nil {
			s.logger.Error("scheduled retention cleanup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling retention cleanup: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop stops the scheduler and waits for a running cleanup pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
