package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/mediascribe/internal/domain"
	"github.com/cuongbtq/mediascribe/shared/postgresql"
)

const jobColumns = `id, status, request_url, idempotency_key, content_hash,
	audio_ref, transcript_ref, error_message, cache_hit,
	lease_owner, lease_expires_at, created_at, updated_at`

const assetColumns = `content_hash, audio_ref, transcript_ref, created_at, updated_at`

// Postgres is the durable Store. Every statement is self-contained: row
// atomicity comes from single UPDATEs, claim atomicity from a
// FOR UPDATE SKIP LOCKED selection inside one statement.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an established database client.
func NewPostgres(pg *postgresql.Client) *Postgres {
	return &Postgres{db: pg.GetDB()}
}

// Migrate installs the schema. Idempotent; both services call it at startup.
func (s *Postgres) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			status TEXT NOT NULL,
			request_url TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT,
			content_hash TEXT,
			audio_ref TEXT,
			transcript_ref TEXT,
			error_message TEXT,
			cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
			lease_owner TEXT,
			lease_expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_status_created_at ON jobs (status, created_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_content_hash ON jobs (content_hash);
		CREATE INDEX IF NOT EXISTS idx_jobs_lease_expires_at ON jobs (lease_expires_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_idempotency_key ON jobs (idempotency_key)
			WHERE idempotency_key IS NOT NULL;

		CREATE TABLE IF NOT EXISTS assets (
			content_hash TEXT PRIMARY KEY,
			audio_ref TEXT,
			transcript_ref TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Postgres) InsertJob(ctx context.Context, nj NewJob) (*domain.Job, error) {
	if !domain.ValidStatus(nj.Status) {
		return nil, domain.ErrInvalidStatus
	}

	query := `
		INSERT INTO jobs (id, status, request_url, idempotency_key, content_hash,
			audio_ref, transcript_ref, cache_hit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query,
		uuid.New().String(),
		nj.Status,
		nj.RequestURL,
		nj.IdempotencyKey,
		nj.ContentHash,
		nj.AudioRef,
		nj.TranscriptRef,
		nj.CacheHit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	return &job, nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *Postgres) GetJobByHash(ctx context.Context, hash string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE content_hash = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, hash, domain.JobStatusComplete)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job by hash: %w", err)
	}
	return &job, nil
}

func (s *Postgres) GetJobByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE idempotency_key = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", err)
	}
	return &job, nil
}

func (s *Postgres) UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error {
	if !domain.ValidStatus(status) {
		return domain.ErrInvalidStatus
	}

	query := `UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1`
	return s.execOnJob(ctx, query, id, status)
}

func (s *Postgres) MarkFailed(ctx context.Context, id string, code domain.ErrorCode) error {
	query := `
		UPDATE jobs
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1`
	return s.execOnJob(ctx, query, id, domain.JobStatusFailed, code)
}

func (s *Postgres) SetContentHash(ctx context.Context, id, hash string) error {
	query := `
		UPDATE jobs
		SET content_hash = $2, updated_at = now()
		WHERE id = $1 AND (content_hash IS NULL OR content_hash = $2)`

	res, err := s.db.ExecContext(ctx, query, id, hash)
	if err != nil {
		return fmt.Errorf("failed to set content hash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		// Either the job is gone or its hash is already set to another
		// value. Re-read to report the right condition.
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrContentHashSet
	}
	return nil
}

func (s *Postgres) SetArtifactRefs(ctx context.Context, id string, audioRef, transcriptRef *string) error {
	query := `
		UPDATE jobs
		SET audio_ref = $2, transcript_ref = $3, updated_at = now()
		WHERE id = $1`
	return s.execOnJob(ctx, query, id, audioRef, transcriptRef)
}

func (s *Postgres) SetCacheHit(ctx context.Context, id string, hit bool) error {
	query := `UPDATE jobs SET cache_hit = $2, updated_at = now() WHERE id = $1`
	return s.execOnJob(ctx, query, id, hit)
}

// ClaimJobs selects claimable rows FIFO with FOR UPDATE SKIP LOCKED and
// stamps the lease in the same statement, so concurrent claimers are handed
// disjoint sets without retry loops.
func (s *Postgres) ClaimJobs(ctx context.Context, status domain.JobStatus, limit int, workerID string, lease time.Duration) ([]*domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		WITH candidates AS (
			SELECT id
			FROM jobs
			WHERE status = $1
			  AND (lease_expires_at IS NULL OR lease_expires_at < now())
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET lease_owner = $3,
		    lease_expires_at = now() + $4 * interval '1 second',
		    updated_at = now()
		FROM candidates c
		WHERE j.id = c.id
		RETURNING ` + prefixColumns("j") + `
	`

	var jobs []*domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, status, limit, workerID, int64(lease.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	return jobs, nil
}

func (s *Postgres) RenewLease(ctx context.Context, id string, lease time.Duration) error {
	query := `
		UPDATE jobs
		SET lease_expires_at = now() + $2 * interval '1 second', updated_at = now()
		WHERE id = $1`
	return s.execOnJob(ctx, query, id, int64(lease.Seconds()))
}

func (s *Postgres) ReleaseLease(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1`
	return s.execOnJob(ctx, query, id)
}

func (s *Postgres) ResetExpiredLeases(ctx context.Context) (int, error) {
	query := `
		UPDATE jobs
		SET status = $1, lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE status = ANY($2)
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at < now()`

	return s.execCount(ctx, query,
		domain.JobStatusPending,
		pq.Array(statusStrings(domain.NonTerminalStatuses())),
	)
}

func (s *Postgres) FailOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE jobs
		SET status = $1, error_message = $2,
		    lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE status = ANY($3)
		  AND updated_at < now() - $4 * interval '1 second'`

	return s.execCount(ctx, query,
		domain.JobStatusFailed,
		domain.CodeJobOrphanedTimeout,
		pq.Array(statusStrings(domain.InFlightStatuses())),
		int64(olderThan.Seconds()),
	)
}

func (s *Postgres) ResetInFlight(ctx context.Context) (int, error) {
	query := `
		UPDATE jobs
		SET status = $1, lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE status = ANY($2)`

	return s.execCount(ctx, query,
		domain.JobStatusPending,
		pq.Array(statusStrings(domain.InFlightStatuses())),
	)
}

const stuckPredicate = `
	status = ANY($1)
	AND (
		(lease_expires_at IS NOT NULL AND lease_expires_at < now())
		OR updated_at < now() - $2 * interval '1 second'
	)`

func (s *Postgres) ListStuck(ctx context.Context, staleAfter time.Duration) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE ` + stuckPredicate + `
		ORDER BY created_at ASC`

	var jobs []*domain.Job
	err := s.db.SelectContext(ctx, &jobs, query,
		pq.Array(statusStrings(domain.InFlightStatuses())),
		int64(staleAfter.Seconds()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck jobs: %w", err)
	}
	return jobs, nil
}

func (s *Postgres) RepairStuck(ctx context.Context, staleAfter time.Duration) (int, error) {
	query := `
		UPDATE jobs
		SET status = $3, lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE ` + stuckPredicate

	return s.execCount(ctx, query,
		pq.Array(statusStrings(domain.InFlightStatuses())),
		int64(staleAfter.Seconds()),
		domain.JobStatusPending,
	)
}

func (s *Postgres) ListFailed(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2`

	var jobs []*domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	return jobs, nil
}

func (s *Postgres) ClearFailed(ctx context.Context) (int, error) {
	query := `DELETE FROM jobs WHERE status = $1`
	return s.execCount(ctx, query, domain.JobStatusFailed)
}

func (s *Postgres) PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM jobs WHERE status = $1 AND updated_at < $2`
	return s.execCount(ctx, query, domain.JobStatusFailed, cutoff)
}

func (s *Postgres) ListRecent(ctx context.Context, limit int, before *JobCursor) ([]*domain.Job, error) {
	var (
		jobs []*domain.Job
		err  error
	)
	if before == nil {
		query := `
			SELECT ` + jobColumns + `
			FROM jobs
			ORDER BY created_at DESC, id DESC
			LIMIT $1`
		err = s.db.SelectContext(ctx, &jobs, query, limit)
	} else {
		query := `
			SELECT ` + jobColumns + `
			FROM jobs
			WHERE (created_at, id) < ($1, $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3`
		err = s.db.SelectContext(ctx, &jobs, query, before.CreatedAt, before.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}
	return jobs, nil
}

func (s *Postgres) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`

	var rows []struct {
		Status domain.JobStatus `db:"status"`
		Count  int              `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	counts := make(map[domain.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *Postgres) UpsertAsset(ctx context.Context, hash string, audioRef, transcriptRef *string) (*domain.Asset, error) {
	query := `
		INSERT INTO assets (content_hash, audio_ref, transcript_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_hash) DO UPDATE
		SET audio_ref = COALESCE(EXCLUDED.audio_ref, assets.audio_ref),
		    transcript_ref = COALESCE(EXCLUDED.transcript_ref, assets.transcript_ref),
		    updated_at = now()
		RETURNING ` + assetColumns

	var asset domain.Asset
	err := s.db.GetContext(ctx, &asset, query, hash, audioRef, transcriptRef)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert asset: %w", err)
	}
	return &asset, nil
}

func (s *Postgres) GetAsset(ctx context.Context, hash string) (*domain.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE content_hash = $1`

	var asset domain.Asset
	err := s.db.GetContext(ctx, &asset, query, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &asset, nil
}

// execOnJob runs a single-row job update and maps zero affected rows to
// domain.ErrJobNotFound.
func (s *Postgres) execOnJob(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Postgres) execCount(ctx context.Context, query string, args ...interface{}) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return int(affected), nil
}

func statusStrings(statuses []domain.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// prefixColumns qualifies the job column list with a table alias for use in
// UPDATE ... RETURNING statements.
func prefixColumns(alias string) string {
	cols := []string{
		"id", "status", "request_url", "idempotency_key", "content_hash",
		"audio_ref", "transcript_ref", "error_message", "cache_hit",
		"lease_owner", "lease_expires_at", "created_at", "updated_at",
	}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}
