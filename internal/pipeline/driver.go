package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cuongbtq/mediascribe/internal/alias"
	"github.com/cuongbtq/mediascribe/internal/blob"
	"github.com/cuongbtq/mediascribe/internal/domain"
	"github.com/cuongbtq/mediascribe/internal/lease"
	"github.com/cuongbtq/mediascribe/internal/notify"
	"github.com/cuongbtq/mediascribe/internal/store"
)

// Config holds driver configuration
type Config struct {
	Logger      *slog.Logger
	Store       store.Store
	Coordinator *lease.Coordinator
	Blobs       blob.Store
	Aliases     alias.Cache
	Publisher   notify.Publisher
	Fetcher     Fetcher
	Normalizer  Normalizer
	Transcriber Transcriber

	// FetchSlots caps concurrent fetch+normalize work across all jobs;
	// TranscribeSlots caps concurrent transcriptions. The fetch slot is held
	// through normalization so half-processed media never piles up on disk.
	FetchSlots      *semaphore.Weighted
	TranscribeSlots *semaphore.Weighted

	// MaxMediaDuration fails media longer than this after normalization.
	// Zero disables the limit.
	MaxMediaDuration time.Duration
}

// Driver executes one claimed job end to end. Every job it is handed reaches
// COMPLETE, reaches FAILED, or is deliberately abandoned mid-lease during
// shutdown for the recovery passes to pick up.
type Driver struct {
	logger      *slog.Logger
	store       store.Store
	coordinator *lease.Coordinator
	blobs       blob.Store
	aliases     alias.Cache
	publisher   notify.Publisher
	fetcher     Fetcher
	normalizer  Normalizer
	transcriber Transcriber

	fetchSlots       *semaphore.Weighted
	transcribeSlots  *semaphore.Weighted
	maxMediaDuration time.Duration
}

// NewDriver creates a new pipeline driver
func NewDriver(cfg *Config) *Driver {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Driver{
		logger:           cfg.Logger,
		store:            cfg.Store,
		coordinator:      cfg.Coordinator,
		blobs:            cfg.Blobs,
		aliases:          cfg.Aliases,
		publisher:        publisher,
		fetcher:          cfg.Fetcher,
		normalizer:       cfg.Normalizer,
		transcriber:      cfg.Transcriber,
		fetchSlots:       cfg.FetchSlots,
		transcribeSlots:  cfg.TranscribeSlots,
		maxMediaDuration: cfg.MaxMediaDuration,
	}
}

// Process runs a claimed job to a terminal state. It never returns an error:
// failures are written onto the job row, and a shutdown mid-stage leaves the
// job leased so the recovery passes return it to the queue.
func (d *Driver) Process(ctx context.Context, job *domain.Job) {
	d.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("url", job.RequestURL),
	)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while processing job",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
			)
			if ctx.Err() == nil {
				d.fail(ctx, job, domain.NewStageError(domain.CodeUnexpectedError, fmt.Errorf("panic: %v", r)))
			}
		}
	}()

	stopRenewal := d.coordinator.KeepAlive(ctx, job.ID)
	defer stopRenewal()

	if err := d.run(ctx, job); err != nil {
		if ctx.Err() != nil {
			// Shutdown took the stage down, not the media. No terminal
			// write: the lease expires and the job is re-queued.
			d.logger.Info("Abandoning job, shutdown in progress",
				slog.String("job_id", job.ID),
			)
			return
		}
		d.fail(ctx, job, err)
	}
}

func (d *Driver) run(ctx context.Context, job *domain.Job) error {
	media, err := d.fetchAndNormalize(ctx, job)
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(media.AudioPath))

	if d.maxMediaDuration > 0 && media.Duration > d.maxMediaDuration {
		return domain.NewStageError(domain.CodeMediaTooLong,
			fmt.Errorf("media runs %s, limit is %s", media.Duration.Round(time.Second), d.maxMediaDuration))
	}

	if err := d.store.SetContentHash(ctx, job.ID, media.ContentHash); err != nil {
		return err
	}

	// Same content may already be transcribed under another job.
	if audioRef, transcriptRef, ok := d.cachedTranscript(ctx, media.ContentHash); ok {
		d.logger.Info("Cache hit, reusing existing transcript",
			slog.String("job_id", job.ID),
			slog.String("content_hash", media.ContentHash),
		)
		return d.complete(ctx, job, media.ContentHash, audioRef, transcriptRef, true)
	}

	audioRef, err := d.storeAudio(ctx, job, media)
	if err != nil {
		return err
	}

	text, err := d.transcribe(ctx, job, media.AudioPath)
	if err != nil {
		return err
	}

	transcriptRef, err := d.storeTranscript(ctx, job, media.ContentHash, text)
	if err != nil {
		return err
	}

	return d.complete(ctx, job, media.ContentHash, &audioRef, &transcriptRef, false)
}

// fetchAndNormalize holds one fetch slot across both stages. The raw download
// is deleted here; the normalized audio passes to the caller.
func (d *Driver) fetchAndNormalize(ctx context.Context, job *domain.Job) (*NormalizedMedia, error) {
	if err := d.fetchSlots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire fetch slot: %w", err)
	}
	defer d.fetchSlots.Release(1)

	if err := d.store.UpdateStatus(ctx, job.ID, domain.JobStatusFetchingMedia); err != nil {
		return nil, err
	}
	rawPath, err := d.fetcher.Fetch(ctx, job.RequestURL)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(rawPath))

	if err := d.store.UpdateStatus(ctx, job.ID, domain.JobStatusNormalizingMedia); err != nil {
		return nil, err
	}
	return d.normalizer.Normalize(ctx, rawPath)
}

// cachedTranscript looks for an existing transcript under the hash: first the
// asset row, then completed jobs that predate the assets table. Lookup
// failures degrade to a miss; transcribing twice beats failing the job.
func (d *Driver) cachedTranscript(ctx context.Context, hash string) (audioRef, transcriptRef *string, ok bool) {
	asset, err := d.store.GetAsset(ctx, hash)
	if err == nil && asset.HasTranscript() {
		return asset.AudioRef, asset.TranscriptRef, true
	}
	if err != nil && !errors.Is(err, domain.ErrAssetNotFound) {
		d.logger.Warn("Asset lookup failed, proceeding without cache",
			slog.String("content_hash", hash),
			slog.String("error", err.Error()),
		)
		return nil, nil, false
	}

	prior, err := d.store.GetJobByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			d.logger.Warn("Prior job lookup failed, proceeding without cache",
				slog.String("content_hash", hash),
				slog.String("error", err.Error()),
			)
		}
		return nil, nil, false
	}
	if prior.TranscriptRef == nil {
		return nil, nil, false
	}
	return prior.AudioRef, prior.TranscriptRef, true
}

func (d *Driver) storeAudio(ctx context.Context, job *domain.Job, media *NormalizedMedia) (string, error) {
	data, err := os.ReadFile(media.AudioPath)
	if err != nil {
		return "", fmt.Errorf("failed to read normalized audio: %w", err)
	}
	ref, err := d.blobs.Put(ctx, blob.AudioKey(media.ContentHash), data)
	if err != nil {
		return "", fmt.Errorf("failed to store audio: %w", err)
	}
	if _, err := d.store.UpsertAsset(ctx, media.ContentHash, &ref, nil); err != nil {
		return "", err
	}
	if err := d.store.UpdateStatus(ctx, job.ID, domain.JobStatusMediaReady); err != nil {
		return "", err
	}
	return ref, nil
}

func (d *Driver) transcribe(ctx context.Context, job *domain.Job, audioPath string) (string, error) {
	if err := d.transcribeSlots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("failed to acquire transcribe slot: %w", err)
	}
	defer d.transcribeSlots.Release(1)

	if err := d.store.UpdateStatus(ctx, job.ID, domain.JobStatusTranscribing); err != nil {
		return "", err
	}
	return d.transcriber.Transcribe(ctx, audioPath)
}

func (d *Driver) storeTranscript(ctx context.Context, job *domain.Job, hash, text string) (string, error) {
	doc := domain.TranscriptDoc{
		Text:        text,
		SourceURL:   job.RequestURL,
		ContentHash: hash,
		CreatedAt:   time.Now().UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript: %w", err)
	}
	ref, err := d.blobs.Put(ctx, blob.TranscriptKey(hash), body)
	if err != nil {
		return "", fmt.Errorf("failed to store transcript: %w", err)
	}
	return ref, nil
}

// complete finalizes a job: refs land on the row and the asset, the lease is
// released before the terminal write, and the alias plus event fan-out are
// best-effort afterwards.
func (d *Driver) complete(ctx context.Context, job *domain.Job, hash string, audioRef, transcriptRef *string, cacheHit bool) error {
	if err := d.store.SetArtifactRefs(ctx, job.ID, audioRef, transcriptRef); err != nil {
		return err
	}
	if _, err := d.store.UpsertAsset(ctx, hash, audioRef, transcriptRef); err != nil {
		return err
	}
	if cacheHit {
		if err := d.store.SetCacheHit(ctx, job.ID, true); err != nil {
			return err
		}
	}

	if err := d.coordinator.Release(ctx, job.ID); err != nil {
		d.logger.Warn("Failed to release lease before completion",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := d.store.UpdateStatus(ctx, job.ID, domain.JobStatusComplete); err != nil {
		return err
	}

	d.recordAlias(ctx, job.RequestURL, hash)
	d.publish(ctx, notify.Event{
		JobID:       job.ID,
		Status:      string(domain.JobStatusComplete),
		ContentHash: hash,
		CacheHit:    cacheHit,
	})

	d.logger.Info("Job complete",
		slog.String("job_id", job.ID),
		slog.String("content_hash", hash),
		slog.Bool("cache_hit", cacheHit),
	)
	return nil
}

func (d *Driver) fail(ctx context.Context, job *domain.Job, cause error) {
	code := domain.CodeOf(cause, domain.CodeUnexpectedError)
	d.logger.Error("Job failed",
		slog.String("job_id", job.ID),
		slog.String("error_code", string(code)),
		slog.String("error", cause.Error()),
	)

	if err := d.store.MarkFailed(ctx, job.ID, code); err != nil {
		// Leave the lease in place; the recovery passes own this job now.
		d.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := d.coordinator.Release(ctx, job.ID); err != nil {
		d.logger.Warn("Failed to release lease after failure",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	d.publish(ctx, notify.Event{
		JobID:     job.ID,
		Status:    string(domain.JobStatusFailed),
		ErrorCode: string(code),
	})
}

// recordAlias is best-effort: a lost alias only costs a future re-fetch.
func (d *Driver) recordAlias(ctx context.Context, requestURL, hash string) {
	key, err := alias.KeyFor(requestURL)
	if err != nil {
		d.logger.Warn("Failed to derive alias key",
			slog.String("url", requestURL),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := d.aliases.Put(ctx, key, hash); err != nil {
		d.logger.Warn("Failed to record alias",
			slog.String("error", err.Error()),
		)
	}
}

func (d *Driver) publish(ctx context.Context, event notify.Event) {
	if err := d.publisher.JobTransitioned(ctx, event); err != nil {
		d.logger.Warn("Failed to publish job event",
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}
}
