// Package store persists jobs and assets. Two implementations exist: a
// Postgres-backed one for production and an in-memory one for tests and
// degraded mode. Both satisfy the same contract; business logic never
// branches on which backend it holds.
package store

import (
	"context"
	"time"

	"github.com/cuongbtq/mediascribe/internal/domain"
)

// NewJob carries the caller-supplied fields for an insert. Status is
// typically PENDING; the submission fast path inserts synthetic COMPLETE
// jobs with the hash, refs and cache flag already in place so the row is
// never observable half-formed.
type NewJob struct {
	Status         domain.JobStatus
	RequestURL     string
	IdempotencyKey *string
	ContentHash    *string
	AudioRef       *string
	TranscriptRef  *string
	CacheHit       bool
}

// JobCursor is an opaque position in the newest-first job listing:
// everything strictly older than (CreatedAt, ID) comes next.
type JobCursor struct {
	CreatedAt time.Time
	ID        string
}

// Store is the single mutation point for jobs and assets. Every operation is
// atomic with respect to one row; ClaimJobs is additionally atomic across
// the set it selects, so concurrent claimers never receive overlapping jobs.
type Store interface {
	// InsertJob allocates a fresh id and returns the stored job.
	InsertJob(ctx context.Context, nj NewJob) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	// GetJobByHash returns the newest COMPLETE job carrying the hash. It
	// backs the duplicate-content check for rows that predate the assets
	// table.
	GetJobByHash(ctx context.Context, hash string) (*domain.Job, error)
	// GetJobByIdempotencyKey returns the newest job submitted under the key.
	GetJobByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error)

	// UpdateStatus is unconditional (last-writer-wins); lease ownership is
	// what serializes writers, not a check here.
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error
	// MarkFailed transitions to FAILED and stamps the error code.
	MarkFailed(ctx context.Context, id string, code domain.ErrorCode) error
	// SetContentHash is write-once: setting a different hash on a job that
	// already has one fails with domain.ErrContentHashSet.
	SetContentHash(ctx context.Context, id, hash string) error
	// SetArtifactRefs overwrites both references; pass nil to clear.
	SetArtifactRefs(ctx context.Context, id string, audioRef, transcriptRef *string) error
	SetCacheHit(ctx context.Context, id string, hit bool) error

	// ClaimJobs atomically selects up to limit jobs in status whose lease is
	// absent or expired, oldest created_at first, and assigns workerID a
	// lease of the given duration on each.
	ClaimJobs(ctx context.Context, status domain.JobStatus, limit int, workerID string, lease time.Duration) ([]*domain.Job, error)
	// RenewLease extends the lease from now.
	RenewLease(ctx context.Context, id string, lease time.Duration) error
	// ReleaseLease clears ownership, on success and failure alike.
	ReleaseLease(ctx context.Context, id string) error

	// ResetExpiredLeases returns any non-terminal job with a passed lease
	// expiry to PENDING and reports how many were repaired.
	ResetExpiredLeases(ctx context.Context) (int, error)
	// FailOrphans marks in-flight jobs untouched for longer than olderThan
	// as FAILED with job_orphaned_timeout.
	FailOrphans(ctx context.Context, olderThan time.Duration) (int, error)
	// ResetInFlight unconditionally returns every in-flight job to PENDING.
	// Used once at startup, before any claim of this process lifetime.
	ResetInFlight(ctx context.Context) (int, error)

	// ListStuck returns in-flight jobs whose lease has expired or that have
	// not been updated within staleAfter, oldest first.
	ListStuck(ctx context.Context, staleAfter time.Duration) ([]*domain.Job, error)
	// RepairStuck resets those same jobs to PENDING.
	RepairStuck(ctx context.Context, staleAfter time.Duration) (int, error)
	ListFailed(ctx context.Context, limit int) ([]*domain.Job, error)
	ClearFailed(ctx context.Context) (int, error)
	// PurgeFailedBefore deletes FAILED jobs last updated before cutoff.
	PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int, error)
	// ListRecent pages through jobs newest-first. A nil cursor starts at the
	// newest job; otherwise results are strictly older than the cursor.
	ListRecent(ctx context.Context, limit int, before *JobCursor) ([]*domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	// UpsertAsset records artifact references for a content hash. A nil
	// reference leaves the stored value untouched, so concurrent writers
	// can never blank out each other's refs.
	UpsertAsset(ctx context.Context, hash string, audioRef, transcriptRef *string) (*domain.Asset, error)
	GetAsset(ctx context.Context, hash string) (*domain.Asset, error)
}
