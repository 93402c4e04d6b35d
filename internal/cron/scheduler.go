// Package cron runs the periodic full-reconciliation pass the supplemented
// feature list in SPEC_FULL.md calls for: real sync systems do not rely
// solely on watcher events and user-triggered syncs, they also run a
// low-frequency full pass to catch drift (deleted files, clock skew,
// crashed processes). This package owns exactly one job: calling
// Sync(nil, SyncOriginUser) on a cron schedule.
package cron

import (
	"context"
	"fmt"
	"log/slog"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/threadsync/internal/coordinator"
)

// Syncer is the subset of *coordinator.Coordinator this package calls.
type Syncer interface {
	Sync(ctx context.Context, statusPoster coordinator.StatusPoster, origin coordinator.SyncOrigin) (*coordinator.SyncResult, error)
}

// Scheduler wraps a robfig/cron runner bound to one reconciliation job.
type Scheduler struct {
	cron   *cronlib.Cron
	sync   Syncer
	logger *slog.Logger
}

// New builds a Scheduler for the given 5-field cron expression
// (minute hour dom month dow). It does not start the job; call Start.
func New(expr string, sync Syncer, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:   cronlib.New(),
		sync:   sync,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(expr, s.runReconciliation); err != nil {
		return nil, fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

// Start begins the cron runner in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("cron scheduler started")
}

// Stop halts the runner and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) runReconciliation() {
	if _, err := s.sync.Sync(context.Background(), nil, coordinator.SyncOriginUser); err != nil {
		s.logger.Warn("cron: periodic reconciliation sync failed", "error", err)
	}
}
