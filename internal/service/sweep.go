package service

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/skarsol/convoy/internal/config"
	"github.com/skarsol/convoy/internal/port/database"
)

// Sweeper periodically walks all active runs and repairs drift: polling
// loops that died, rollups that were missed while the process was down, and
// runs created by another instance. Polling handles the common case; the
// sweep is the safety net.
type Sweeper struct {
	store     database.Store
	reconcile *ReconcileService
	scheduler *Scheduler
	cron      *cron.Cron
	spec      string
}

// NewSweeper creates a Sweeper with the configured cron spec.
func NewSweeper(store database.Store, reconcile *ReconcileService, scheduler *Scheduler, cfg *config.Reconcile) *Sweeper {
	return &Sweeper{
		store:     store,
		reconcile: reconcile,
		scheduler: scheduler,
		cron:      cron.New(),
		spec:      cfg.SweepSpec,
	}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() { s.Sweep(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("sweeper started", "spec", s.spec)
	return nil
}

// Stop halts the cron schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep runs one pass over all active runs.
func (s *Sweeper) Sweep(ctx context.Context) {
	runs, err := s.store.ListActiveRuns(ctx)
	if err != nil {
		slog.Error("sweep: list active runs", "error", err)
		return
	}

	updates := make(map[string]struct{})
	for i := range runs {
		s.scheduler.EnsureRun(&runs[i])
		updates[runs[i].UpdateID] = struct{}{}
	}

	for updateID := range updates {
		if err := s.reconcile.rollupUpdate(ctx, updateID); err != nil {
			slog.Error("sweep: rollup update", "update_id", updateID, "error", err)
		}
	}

	slog.Debug("sweep completed", "active_runs", len(runs), "updates", len(updates))
}
