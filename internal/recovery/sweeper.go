// Package recovery contains the background repair passes that return crashed
// or abandoned work to the queue and keep the failed set from growing without
// bound.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/mediascribe/internal/store"
)

// Config holds sweeper configuration
type Config struct {
	Logger *slog.Logger
	Store  store.Store

	// LeaseRepairInterval is how often expired leases are reset to PENDING.
	LeaseRepairInterval time.Duration
	// OrphanSweepInterval is how often stale in-flight jobs are failed.
	OrphanSweepInterval time.Duration
	// OrphanThreshold is how long an in-flight job may go without a write
	// before the sweep considers it orphaned.
	OrphanThreshold time.Duration
	// PurgeInterval is how often old failed jobs are deleted.
	PurgeInterval time.Duration
	// PurgeRetention is how long failed jobs are kept before purging.
	PurgeRetention time.Duration
}

// Sweeper runs the recovery passes, each on its own ticker so one cadence can
// be tuned without disturbing the others.
type Sweeper struct {
	logger *slog.Logger
	store  store.Store

	leaseRepairInterval time.Duration
	orphanSweepInterval time.Duration
	orphanThreshold     time.Duration
	purgeInterval       time.Duration
	purgeRetention      time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewSweeper creates a new recovery sweeper
func NewSweeper(cfg *Config) *Sweeper {
	return &Sweeper{
		logger:              cfg.Logger,
		store:               cfg.Store,
		leaseRepairInterval: cfg.LeaseRepairInterval,
		orphanSweepInterval: cfg.OrphanSweepInterval,
		orphanThreshold:     cfg.OrphanThreshold,
		purgeInterval:       cfg.PurgeInterval,
		purgeRetention:      cfg.PurgeRetention,
		stopChan:            make(chan struct{}),
	}
}

// RepairStartup resets every in-flight job back to PENDING. Run once at boot,
// before any claims: nothing can legitimately be in flight when no worker has
// started yet, so whatever is there was abandoned by a previous process.
func (s *Sweeper) RepairStartup(ctx context.Context) error {
	reset, err := s.store.ResetInFlight(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		s.logger.Info("Startup repair reset in-flight jobs",
			slog.Int("count", reset),
		)
	}
	return nil
}

// Start launches the periodic passes. Passes with a non-positive interval are
// disabled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting recovery sweeper",
		slog.Duration("lease_repair_interval", s.leaseRepairInterval),
		slog.Duration("orphan_sweep_interval", s.orphanSweepInterval),
		slog.Duration("orphan_threshold", s.orphanThreshold),
		slog.Duration("purge_interval", s.purgeInterval),
		slog.Duration("purge_retention", s.purgeRetention),
	)

	s.spawnPass(ctx, "expired_leases", s.leaseRepairInterval, s.sweepExpiredLeases)
	s.spawnPass(ctx, "orphans", s.orphanSweepInterval, s.sweepOrphans)
	s.spawnPass(ctx, "purge_failed", s.purgeInterval, s.purgeFailed)
}

// Stop halts all passes and waits for them to exit.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("Recovery sweeper stopped")
}

func (s *Sweeper) spawnPass(ctx context.Context, name string, interval time.Duration, pass func(context.Context) (int, error)) {
	if interval <= 0 {
		s.logger.Warn("Recovery pass disabled",
			slog.String("pass", name),
		)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			s.runPass(ctx, name, pass)

			select {
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *Sweeper) runPass(ctx context.Context, name string, pass func(context.Context) (int, error)) {
	repaired, err := pass(ctx)
	if err != nil {
		s.logger.Error("Recovery pass failed",
			slog.String("pass", name),
			slog.String("error", err.Error()),
		)
		return
	}
	if repaired > 0 {
		s.logger.Info("Recovery pass repaired jobs",
			slog.String("pass", name),
			slog.Int("count", repaired),
		)
	}
}

func (s *Sweeper) sweepExpiredLeases(ctx context.Context) (int, error) {
	return s.store.ResetExpiredLeases(ctx)
}

func (s *Sweeper) sweepOrphans(ctx context.Context) (int, error) {
	return s.store.FailOrphans(ctx, s.orphanThreshold)
}

func (s *Sweeper) purgeFailed(ctx context.Context) (int, error) {
	return s.store.PurgeFailedBefore(ctx, time.Now().Add(-s.purgeRetention))
}
