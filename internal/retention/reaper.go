package retention

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jerome2525/radar-app/internal/observability"
	"github.com/jerome2525/radar-app/internal/store"
)

// Reaper deletes observations older than the configured retention window.
type Reaper struct {
	store   store.Store
	hours   int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReaper creates a Reaper keeping the most recent `hours` of data.
func NewReaper(s store.Store, hours int, logger *slog.Logger, metrics *observability.Metrics) *Reaper {
	if hours <= 0 {
		hours = store.DefaultRetentionHours
	}
	return &Reaper{store: s, hours: hours, logger: logger, metrics: metrics}
}

// Run performs one cleanup pass and returns the number of rows removed.
// Running it twice in a row is safe; the second pass finds nothing to delete.
func (r *Reaper) Run(ctx context.Context) (int64, error) {
	deleted, err := r.store.CleanupOldData(ctx, r.hours)
	if err != nil {
		return 0, fmt.Errorf("retention cleanup: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RetentionDeleted.Add(float64(deleted))
	}

	if deleted > 0 {
		r.logger.Info("retention cleanup removed rows",
			"deleted", deleted,
			"hours_kept", r.hours,
		)
	} else {
		r.logger.Debug("retention cleanup found nothing to remove",
			"hours_kept", r.hours,
		)
	}
	return deleted, nil
}
