// Package maintenance runs the periodic housekeeping jobs: returning stale
// claims to the queue when their worker died, and pruning terminal rows past
// the retention window.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldrun/fieldrun/internal/property"
)

// Runner owns the cron schedule for both sweeps.
type Runner struct {
	store     property.Store
	claimTTL  time.Duration
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewRunner creates a stopped maintenance runner.
func NewRunner(store property.Store, claimTTL, retention time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:     store,
		claimTTL:  claimTTL,
		retention: retention,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start registers both sweeps on the given cron schedule and starts the
// cron loop. Schedule accepts standard cron syntax and @every expressions.
func (r *Runner) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	return nil
}

// Stop stops the cron loop and waits for a running sweep to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep runs both housekeeping passes once. Errors are logged, not
// propagated: the next scheduled run retries anyway.
func (r *Runner) Sweep(ctx context.Context) {
	ids, err := r.store.ReclaimStale(ctx, time.Now().Add(-r.claimTTL))
	if err != nil {
		r.logger.Error("reclaim stale claims", "error", err)
	} else if len(ids) > 0 {
		r.logger.Warn("reclaimed stale claims", "count", len(ids), "ids", ids)
	}

	n, err := r.store.DeleteTerminalBefore(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Error("prune terminal properties", "error", err)
	} else if n > 0 {
		r.logger.Info("pruned terminal properties", "count", n)
	}
}
