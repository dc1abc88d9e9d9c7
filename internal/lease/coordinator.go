// Package lease binds a worker identity to the store's lease operations and
// keeps claimed leases alive while stages run.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/mediascribe/internal/domain"
	"github.com/cuongbtq/mediascribe/internal/store"
)

// Config holds coordinator configuration
type Config struct {
	Logger   *slog.Logger
	Store    store.Store
	WorkerID string
	// Duration is the lease length granted on claim and on each renewal.
	Duration time.Duration
}

// Coordinator issues and maintains job leases for a single worker process.
// All claims and renewals it makes carry the same worker identity.
type Coordinator struct {
	logger   *slog.Logger
	store    store.Store
	workerID string
	duration time.Duration
}

// NewCoordinator creates a new lease coordinator
func NewCoordinator(cfg *Config) *Coordinator {
	return &Coordinator{
		logger:   cfg.Logger,
		store:    cfg.Store,
		workerID: cfg.WorkerID,
		duration: cfg.Duration,
	}
}

// WorkerID returns the identity stamped onto claimed leases.
func (c *Coordinator) WorkerID() string {
	return c.workerID
}

// Duration returns the lease length granted on claim and renewal.
func (c *Coordinator) Duration() time.Duration {
	return c.duration
}

// Claim atomically claims up to limit jobs in the given status for this
// worker. Jobs come back oldest-first with fresh leases already attached.
func (c *Coordinator) Claim(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	jobs, err := c.store.ClaimJobs(ctx, status, limit, c.workerID, c.duration)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	if len(jobs) > 0 {
		c.logger.Info("Claimed jobs",
			slog.Int("count", len(jobs)),
			slog.String("status", string(status)),
			slog.String("worker_id", c.workerID),
		)
	}
	return jobs, nil
}

// Renew extends the lease on a single job by the configured duration.
func (c *Coordinator) Renew(ctx context.Context, jobID string) error {
	if err := c.store.RenewLease(ctx, jobID, c.duration); err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	return nil
}

// Release clears the lease on a job. Called on the success path before the
// terminal transition and on the failure path after the job is marked failed.
func (c *Coordinator) Release(ctx context.Context, jobID string) error {
	if err := c.store.ReleaseLease(ctx, jobID); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// KeepAlive renews the job's lease at half the lease duration until the
// returned stop function is called or ctx is canceled. Renewal failures are
// logged and retried on the next tick; they never interrupt the job. The stop
// function blocks until the renewal goroutine has exited, so no renewal can
// land after stop returns.
func (c *Coordinator) KeepAlive(ctx context.Context, jobID string) func() {
	interval := c.duration / 2
	if interval <= 0 {
		interval = time.Second
	}

	stopChan := make(chan struct{})
	doneChan := make(chan struct{})

	go func() {
		defer close(doneChan)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopChan:
				return

			case <-ctx.Done():
				return

			case <-ticker.C:
				err := c.store.RenewLease(ctx, jobID, c.duration)
				if err == nil {
					c.logger.Debug("Lease renewed",
						slog.String("job_id", jobID),
						slog.String("worker_id", c.workerID),
					)
					continue
				}
				if errors.Is(err, domain.ErrJobNotFound) {
					// Row is gone; nothing left to keep alive.
					c.logger.Warn("Lease renewal target missing, stopping keep-alive",
						slog.String("job_id", jobID),
					)
					return
				}
				c.logger.Error("Failed to renew lease",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopChan) })
		<-doneChan
	}
}

// NewWorkerID builds a process-unique worker identity from the hostname and
// a random suffix.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("worker-%s-%s", host, uuid.New().String()[:8])
}
