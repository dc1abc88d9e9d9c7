// Package service holds the application operations behind the HTTP API:
// submission with its cache fast path, status and transcript reads, and the
// operator repair surface.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/mediascribe/internal/alias"
	"github.com/cuongbtq/mediascribe/internal/blob"
	"github.com/cuongbtq/mediascribe/internal/domain"
	"github.com/cuongbtq/mediascribe/internal/notify"
	"github.com/cuongbtq/mediascribe/internal/store"
)

var (
	// ErrInvalidURL rejects a submission before anything is stored.
	ErrInvalidURL = errors.New("invalid request url")

	// ErrTranscriptNotReady is returned when a job exists but has not
	// produced a transcript yet.
	ErrTranscriptNotReady = errors.New("transcript not ready")
)

const (
	defaultListLimit      = 20
	maxListLimit          = 100
	defaultStuckThreshold = 10 * time.Minute
)

// Config holds service configuration
type Config struct {
	Logger  *slog.Logger
	Store   store.Store
	Aliases alias.Cache
	Blobs   blob.Store
	// Publisher receives an event when a submission completes straight from
	// the cache. Optional; nil means no fan-out.
	Publisher notify.Publisher
}

// Service implements the API-facing operations over the store, the alias
// cache and the blob store.
type Service struct {
	logger    *slog.Logger
	store     store.Store
	aliases   alias.Cache
	blobs     blob.Store
	publisher notify.Publisher
}

// NewService creates a new service
func NewService(cfg *Config) *Service {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Service{
		logger:    cfg.Logger,
		store:     cfg.Store,
		aliases:   cfg.Aliases,
		blobs:     cfg.Blobs,
		publisher: publisher,
	}
}

// SubmitInput carries a transcription request.
type SubmitInput struct {
	URL            string
	IdempotencyKey string
}

// SubmitResult is what a submission produced: either a fresh job (PENDING, or
// COMPLETE when the alias fast path hit) or a prior job matched by
// idempotency key.
type SubmitResult struct {
	Job      *domain.Job
	Existing bool
}

// Submit validates the URL and creates a job for it. A URL whose content is
// already transcribed completes instantly from the cache without any job ever
// reaching a worker.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	requestURL := strings.TrimSpace(in.URL)
	if err := validateURL(requestURL); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		existing, err := s.store.GetJobByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			s.logger.Info("Submission matched idempotency key",
				slog.String("job_id", existing.ID),
				slog.String("idempotency_key", in.IdempotencyKey),
			)
			return &SubmitResult{Job: existing, Existing: true}, nil
		}
		if !errors.Is(err, domain.ErrJobNotFound) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	var key *string
	if in.IdempotencyKey != "" {
		key = &in.IdempotencyKey
	}

	if job, ok := s.tryAliasFastPath(ctx, requestURL, key); ok {
		return &SubmitResult{Job: job}, nil
	}

	job, err := s.store.InsertJob(ctx, store.NewJob{
		Status:         domain.JobStatusPending,
		RequestURL:     requestURL,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", job.ID),
		slog.String("url", requestURL),
	)
	return &SubmitResult{Job: job}, nil
}

// tryAliasFastPath resolves the URL through the alias cache and, when the
// content behind it already has a transcript, inserts a synthetic COMPLETE
// job carrying the cached refs. Every failure degrades to a normal submit.
func (s *Service) tryAliasFastPath(ctx context.Context, requestURL string, key *string) (*domain.Job, bool) {
	aliasKey, err := alias.KeyFor(requestURL)
	if err != nil {
		return nil, false
	}
	hash, err := s.aliases.Get(ctx, aliasKey)
	if err != nil {
		if !errors.Is(err, alias.ErrNotFound) {
			s.logger.Warn("Alias lookup failed, submitting normally",
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	asset, err := s.store.GetAsset(ctx, hash)
	if err != nil {
		if !errors.Is(err, domain.ErrAssetNotFound) {
			s.logger.Warn("Asset lookup failed, submitting normally",
				slog.String("content_hash", hash),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	if !asset.HasTranscript() {
		return nil, false
	}

	job, err := s.store.InsertJob(ctx, store.NewJob{
		Status:         domain.JobStatusComplete,
		RequestURL:     requestURL,
		IdempotencyKey: key,
		ContentHash:    &hash,
		AudioRef:       asset.AudioRef,
		TranscriptRef:  asset.TranscriptRef,
		CacheHit:       true,
	})
	if err != nil {
		s.logger.Warn("Failed to insert fast-path job, submitting normally",
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	if err := s.publisher.JobTransitioned(ctx, notify.Event{
		JobID:       job.ID,
		Status:      string(domain.JobStatusComplete),
		ContentHash: hash,
		CacheHit:    true,
	}); err != nil {
		s.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Submission served from alias cache",
		slog.String("job_id", job.ID),
		slog.String("content_hash", hash),
	)
	return job, true
}

// Status returns the job row as stored. Callers see the real pipeline
// statuses, not a collapsed view.
func (s *Service) Status(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

// Transcript loads and decodes the transcript document for a completed job.
func (s *Service) Transcript(ctx context.Context, id string) (*domain.TranscriptDoc, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusComplete || job.TranscriptRef == nil {
		return nil, ErrTranscriptNotReady
	}

	body, err := s.blobs.Get(ctx, *job.TranscriptRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	var doc domain.TranscriptDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return &doc, nil
}

// ListRecent pages through jobs newest-first for the operator overview.
func (s *Service) ListRecent(ctx context.Context, limit int, before *store.JobCursor) ([]*domain.Job, error) {
	return s.store.ListRecent(ctx, clampLimit(limit), before)
}

// ListStuck returns in-flight jobs that look abandoned.
func (s *Service) ListStuck(ctx context.Context, staleAfter time.Duration) ([]*domain.Job, error) {
	if staleAfter <= 0 {
		staleAfter = defaultStuckThreshold
	}
	return s.store.ListStuck(ctx, staleAfter)
}

// RepairStuck resets abandoned in-flight jobs to PENDING and reports how many
// were repaired. Content hashes survive the reset, so repaired jobs that were
// already transcribed complete from cache.
func (s *Service) RepairStuck(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = defaultStuckThreshold
	}
	repaired, err := s.store.RepairStuck(ctx, staleAfter)
	if err != nil {
		return 0, err
	}
	if repaired > 0 {
		s.logger.Info("Repaired stuck jobs",
			slog.Int("count", repaired),
		)
	}
	return repaired, nil
}

// ListFailed returns the most recently failed jobs.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.store.ListFailed(ctx, clampLimit(limit))
}

// ClearFailed deletes all failed jobs and reports how many were removed.
func (s *Service) ClearFailed(ctx context.Context) (int, error) {
	cleared, err := s.store.ClearFailed(ctx)
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		s.logger.Info("Cleared failed jobs",
			slog.Int("count", cleared),
		)
	}
	return cleared, nil
}

// Stats returns job counts per status.
func (s *Service) Stats(ctx context.Context) (map[domain.JobStatus]int, error) {
	return s.store.CountByStatus(ctx)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}
