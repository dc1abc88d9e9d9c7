// Package worker drives the claim loop: it repairs abandoned work at boot,
// keeps the recovery passes running, and polls the store for PENDING jobs to
// hand to the pipeline.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/mediascribe/internal/domain"
	"github.com/cuongbtq/mediascribe/internal/lease"
	"github.com/cuongbtq/mediascribe/internal/pipeline"
	"github.com/cuongbtq/mediascribe/internal/recovery"
	"github.com/cuongbtq/mediascribe/internal/store"
)

// Config holds worker loop configuration
type Config struct {
	Logger      *slog.Logger
	Store       store.Store
	Coordinator *lease.Coordinator
	Driver      *pipeline.Driver
	Sweeper     *recovery.Sweeper

	// ClaimBatch caps how many claimed jobs may be in flight at once. Sized
	// off the fetch concurrency so claimed jobs start working soon after
	// their lease is stamped.
	ClaimBatch int
	// PollInterval is the pause before retrying after a claim that found no
	// work. Claims that do find work are followed up immediately.
	PollInterval time.Duration
	// HeartbeatInterval is how often queue depths are logged. Non-positive
	// disables the heartbeat.
	HeartbeatInterval time.Duration
}

// Loop is the long-running claim-and-dispatch cycle of a worker process.
type Loop struct {
	logger      *slog.Logger
	store       store.Store
	coordinator *lease.Coordinator
	driver      *pipeline.Driver
	sweeper     *recovery.Sweeper

	claimBatch        int
	pollInterval      time.Duration
	heartbeatInterval time.Duration

	inFlight atomic.Int64
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewLoop creates a new worker loop
func NewLoop(cfg *Config) *Loop {
	return &Loop{
		logger:            cfg.Logger,
		store:             cfg.Store,
		coordinator:       cfg.Coordinator,
		driver:            cfg.Driver,
		sweeper:           cfg.Sweeper,
		claimBatch:        cfg.ClaimBatch,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		stopChan:          make(chan struct{}),
	}
}

// Start repairs abandoned work, launches the recovery passes and begins
// claiming. It blocks until ctx is canceled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("Starting worker loop",
		slog.String("worker_id", l.coordinator.WorkerID()),
		slog.Int("claim_batch", l.claimBatch),
		slog.Duration("poll_interval", l.pollInterval),
	)

	if err := l.sweeper.RepairStartup(ctx); err != nil {
		return fmt.Errorf("failed to run startup repair: %w", err)
	}
	l.sweeper.Start(ctx)

	l.wg.Add(2)
	go l.claimLoop(ctx)
	go l.heartbeatLoop(ctx)

	select {
	case <-ctx.Done():
		l.logger.Info("Worker loop context canceled, stopping...")
	case <-l.stopChan:
	}
	return nil
}

// Stop halts claiming and the recovery passes and waits for in-flight job
// goroutines to return. Cancel the Start context first so running stages
// abandon promptly instead of finishing out.
func (l *Loop) Stop() {
	l.logger.Info("Stopping worker loop...")
	close(l.stopChan)
	l.wg.Wait()
	l.sweeper.Stop()
	l.logger.Info("Worker loop stopped")
}

func (l *Loop) claimLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		// Go straight back for more while claims keep landing; only an
		// empty claim earns the poll pause.
		if l.claimOnce(ctx) > 0 {
			continue
		}

		select {
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(l.pollInterval):
		}
	}
}

// claimOnce claims up to the free batch capacity and dispatches each job to
// the pipeline. It returns the number of jobs claimed.
func (l *Loop) claimOnce(ctx context.Context) int {
	free := l.claimBatch - int(l.inFlight.Load())
	if free <= 0 {
		return 0
	}

	jobs, err := l.coordinator.Claim(ctx, domain.JobStatusPending, free)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Error("Failed to claim jobs",
				slog.String("error", err.Error()),
			)
		}
		return 0
	}

	for _, job := range jobs {
		l.inFlight.Add(1)
		l.wg.Add(1)
		go func(job *domain.Job) {
			defer l.wg.Done()
			defer l.inFlight.Add(-1)
			l.driver.Process(ctx, job)
		}(job)
	}
	return len(jobs)
}

func (l *Loop) heartbeatLoop(ctx context.Context) {
	defer l.wg.Done()

	if l.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(l.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.logHeartbeat(ctx)
		}
	}
}

func (l *Loop) logHeartbeat(ctx context.Context) {
	counts, err := l.store.CountByStatus(ctx)
	if err != nil {
		l.logger.Error("Failed to count jobs for heartbeat",
			slog.String("error", err.Error()),
		)
		return
	}

	inFlight := 0
	for _, status := range domain.InFlightStatuses() {
		inFlight += counts[status]
	}
	l.logger.Info("Worker heartbeat",
		slog.String("worker_id", l.coordinator.WorkerID()),
		slog.Int("pending", counts[domain.JobStatusPending]),
		slog.Int("in_flight", inFlight),
		slog.Int("complete", counts[domain.JobStatusComplete]),
		slog.Int("failed", counts[domain.JobStatusFailed]),
	)
}
