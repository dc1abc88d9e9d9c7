package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/mediascribe/internal/domain"
)

func insertPending(t *testing.T, m *Memory, url string) *domain.Job {
	t.Helper()
	job, err := m.InsertJob(context.Background(), NewJob{
		Status:     domain.JobStatusPending,
		RequestURL: url,
	})
	require.NoError(t, err)
	return job
}

func TestMemory_InsertAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	key := "client-key-1"
	job, err := m.InsertJob(ctx, NewJob{
		Status:         domain.JobStatusPending,
		RequestURL:     "https://www.tiktok.com/@u/video/1",
		IdempotencyKey: &key,
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	require.NotNil(t, got.IdempotencyKey)
	assert.Equal(t, key, *got.IdempotencyKey)

	_, err = m.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemory_GetJobByIdempotencyKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	key := "client-key"
	first, err := m.InsertJob(ctx, NewJob{
		Status:         domain.JobStatusPending,
		RequestURL:     "u1",
		IdempotencyKey: &key,
	})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.InsertJob(ctx, NewJob{
		Status:         domain.JobStatusPending,
		RequestURL:     "u2",
		IdempotencyKey: &key,
	})
	require.NoError(t, err)

	got, err := m.GetJobByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.NotEqual(t, first.ID, got.ID)

	_, err = m.GetJobByIdempotencyKey(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemory_InsertSyntheticCompleteJob(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	hash := "h"
	audio := "audio/h.wav"
	transcript := "transcripts/h.json"
	job, err := m.InsertJob(ctx, NewJob{
		Status:        domain.JobStatusComplete,
		RequestURL:    "u",
		ContentHash:   &hash,
		AudioRef:      &audio,
		TranscriptRef: &transcript,
		CacheHit:      true,
	})
	require.NoError(t, err)

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, got.Status)
	assert.True(t, got.CacheHit)
	require.NotNil(t, got.TranscriptRef)
	assert.Equal(t, transcript, *got.TranscriptRef)
}

func TestMemory_InsertRejectsUnknownStatus(t *testing.T) {
	m := NewMemory()

	_, err := m.InsertJob(context.Background(), NewJob{Status: domain.JobStatus("RUNNING")})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestMemory_ReturnedJobsAreCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := insertPending(t, m, "https://example.com/a")
	job.Status = domain.JobStatusFailed
	job.RequestURL = "mutated"

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, "https://example.com/a", got.RequestURL)
}

func TestMemory_UpdateStatusAndMarkFailed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	job := insertPending(t, m, "u")

	require.NoError(t, m.UpdateStatus(ctx, job.ID, domain.JobStatusFetchingMedia))
	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFetchingMedia, got.Status)
	assert.True(t, got.UpdatedAt.After(job.UpdatedAt) || got.UpdatedAt.Equal(job.UpdatedAt))

	assert.ErrorIs(t, m.UpdateStatus(ctx, job.ID, domain.JobStatus("bogus")), domain.ErrInvalidStatus)
	assert.ErrorIs(t, m.UpdateStatus(ctx, "missing", domain.JobStatusComplete), domain.ErrJobNotFound)

	require.NoError(t, m.MarkFailed(ctx, job.ID, domain.CodeFetchError))
	got, err = m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, domain.CodeFetchError, *got.ErrorCode)
}

func TestMemory_SetContentHashWriteOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	job := insertPending(t, m, "u")

	require.NoError(t, m.SetContentHash(ctx, job.ID, "aaa"))
	// Same value again is a no-op, not a conflict.
	require.NoError(t, m.SetContentHash(ctx, job.ID, "aaa"))
	// A different value is rejected: content identity is stable.
	assert.ErrorIs(t, m.SetContentHash(ctx, job.ID, "bbb"), domain.ErrContentHashSet)

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ContentHash)
	assert.Equal(t, "aaa", *got.ContentHash)
}

func TestMemory_GetJobByHashReturnsNewestComplete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := insertPending(t, m, "u1")
	time.Sleep(2 * time.Millisecond)
	second := insertPending(t, m, "u2")
	time.Sleep(2 * time.Millisecond)
	inFlight := insertPending(t, m, "u3")

	for _, id := range []string{first.ID, second.ID, inFlight.ID} {
		require.NoError(t, m.SetContentHash(ctx, id, "h"))
	}
	require.NoError(t, m.UpdateStatus(ctx, first.ID, domain.JobStatusComplete))
	require.NoError(t, m.UpdateStatus(ctx, second.ID, domain.JobStatusComplete))
	require.NoError(t, m.UpdateStatus(ctx, inFlight.ID, domain.JobStatusTranscribing))

	// The newer in-flight job with the same hash must not shadow the
	// completed ones.
	got, err := m.GetJobByHash(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = m.GetJobByHash(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemory_ClaimJobsFIFO(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var want []string
	for i := 0; i < 5; i++ {
		job := insertPending(t, m, "u")
		want = append(want, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	claimed, err := m.ClaimJobs(ctx, domain.JobStatusPending, 3, "worker-a", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, j := range claimed {
		assert.Equal(t, want[i], j.ID, "claims should be oldest-first")
		require.NotNil(t, j.LeaseOwner)
		assert.Equal(t, "worker-a", *j.LeaseOwner)
		require.NotNil(t, j.LeaseExpiresAt)
		assert.True(t, j.LeaseExpiresAt.After(time.Now()))
	}

	// The remaining two are claimable by someone else; the first three are not.
	rest, err := m.ClaimJobs(ctx, domain.JobStatusPending, 10, "worker-b", time.Minute)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, want[3], rest[0].ID)
	assert.Equal(t, want[4], rest[1].ID)
}

func TestMemory_ClaimJobsSkipsLiveLeases(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	job := insertPending(t, m, "u")

	claimed, err := m.ClaimJobs(ctx, domain.JobStatusPending, 1, "worker-a", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := m.ClaimJobs(ctx, domain.JobStatusPending, 1, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Once the lease expires the job is claimable again without any repair.
	require.NoError(t, m.RenewLease(ctx, job.ID, time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	reclaimed, err := m.ClaimJobs(ctx, domain.JobStatusPending, 1, "worker-b", time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, job.ID, reclaimed[0].ID)
	assert.Equal(t, "worker-b", *reclaimed[0].LeaseOwner)
}

// TestMemory_ConcurrentClaimsDisjoint is the linchpin property: concurrent
// claimers must never be handed the same job.
func TestMemory_ConcurrentClaimsDisjoint(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const jobs = 40
	for i := 0; i < jobs; i++ {
		insertPending(t, m, "u")
	}

	const workers = 8
	results := make([][]*domain.Job, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			claimed, err := m.ClaimJobs(ctx, domain.JobStatusPending, 10, "worker", time.Minute)
			assert.NoError(t, err)
			results[w] = claimed
		}(w)
	}
	close(start)
	wg.Wait()

	seen := make(map[string]int)
	total := 0
	for _, claimed := range results {
		for _, j := range claimed {
			seen[j.ID]++
			total++
		}
	}
	assert.Equal(t, jobs, total, "every job should be claimed exactly once")
	for id, n := range seen {
		assert.Equalf(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestMemory_ClaimZeroLimit(t *testing.T) {
	m := NewMemory()
	insertPending(t, m, "u")

	claimed, err := m.ClaimJobs(context.Background(), domain.JobStatusPending, 0, "w", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMemory_RenewAndReleaseLease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	job := insertPending(t, m, "u")

	claimed, err := m.ClaimJobs(ctx, domain.JobStatusPending, 1, "worker-a", 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	firstExpiry := *claimed[0].LeaseExpiresAt

	require.NoError(t, m.RenewLease(ctx, job.ID, time.Minute))
	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LeaseExpiresAt)
	assert.True(t, got.LeaseExpiresAt.After(firstExpiry))

	require.NoError(t, m.ReleaseLease(ctx, job.ID))
	got, err = m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LeaseOwner)
	assert.Nil(t, got.LeaseExpiresAt)

	assert.ErrorIs(t, m.RenewLease(ctx, "missing", time.Minute), domain.ErrJobNotFound)
	assert.ErrorIs(t, m.ReleaseLease(ctx, "missing"), domain.ErrJobNotFound)
}

func TestMemory_ResetExpiredLeases(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	expired := insertPending(t, m, "u1")
	_, err := m.ClaimJobs(ctx, domain.JobStatusPending, 1, "worker-a", time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(ctx, expired.ID, domain.JobStatusTranscribing))

	live := insertPending(t, m, "u2")
	_, err = m.ClaimJobs(ctx, domain.JobStatusPending, 1, "worker-b", time.Minute)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	repaired, err := m.ResetExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	got, err := m.GetJob(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Nil(t, got.LeaseOwner)
	assert.Nil(t, got.LeaseExpiresAt)

	// The live lease is untouched.
	got, err = m.GetJob(ctx, live.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LeaseOwner)
	assert.Equal(t, "worker-b", *got.LeaseOwner)
}

func TestMemory_ResetExpiredLeasesSkipsTerminal(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := insertPending(t, m, "u")
	_, err := m.ClaimJobs(ctx, domain.JobStatusPending, 1, "w", time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(ctx, job.ID, domain.JobStatusComplete))
	time.Sleep(5 * time.Millisecond)

	repaired, err := m.ResetExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, got.Status)
}

func TestMemory_FailOrphans(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	stale := insertPending(t, m, "u1")
	require.NoError(t, m.UpdateStatus(ctx, stale.ID, domain.JobStatusTranscribing))

	pendingBacklog := insertPending(t, m, "u2")

	time.Sleep(20 * time.Millisecond)

	fresh := insertPending(t, m, "u3")
	require.NoError(t, m.UpdateStatus(ctx, fresh.ID, domain.JobStatusFetchingMedia))

	failed, err := m.FailOrphans(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	got, err := m.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, domain.CodeJobOrphanedTimeout, *got.ErrorCode)
	assert.Nil(t, got.LeaseOwner)

	// A stale PENDING job is backlog, not an orphan.
	got, err = m.GetJob(ctx, pendingBacklog.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)

	// A recently-updated in-flight job is healthy.
	got, err = m.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFetchingMedia, got.Status)
}

func TestMemory_ResetInFlight(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	inFlight := insertPending(t, m, "u1")
	require.NoError(t, m.UpdateStatus(ctx, inFlight.ID, domain.JobStatusMediaReady))

	pending := insertPending(t, m, "u2")
	done := insertPending(t, m, "u3")
	require.NoError(t, m.UpdateStatus(ctx, done.ID, domain.JobStatusComplete))

	reset, err := m.ResetInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	got, err := m.GetJob(ctx, inFlight.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)

	got, err = m.GetJob(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)

	got, err = m.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, got.Status)
}

func TestMemory_StuckListingAndRepair(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	stuck := insertPending(t, m, "u1")
	_, err := m.ClaimJobs(ctx, domain.JobStatusPending, 1, "w", time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(ctx, stuck.ID, domain.JobStatusTranscribing))
	time.Sleep(10 * time.Millisecond)

	healthy := insertPending(t, m, "u2")
	_, err = m.ClaimJobs(ctx, domain.JobStatusPending, 1, "w", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStatus(ctx, healthy.ID, domain.JobStatusFetchingMedia))

	listed, err := m.ListStuck(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, stuck.ID, listed[0].ID)

	repaired, err := m.RepairStuck(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	got, err := m.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	// Repair never touches content identity.
	assert.Nil(t, got.ContentHash)
}

func TestMemory_FailedListingClearingPurging(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	old := insertPending(t, m, "u1")
	require.NoError(t, m.MarkFailed(ctx, old.ID, domain.CodeFetchError))
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(2 * time.Millisecond)

	recent := insertPending(t, m, "u2")
	require.NoError(t, m.MarkFailed(ctx, recent.ID, domain.CodeTranscriptionError))

	failed, err := m.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, recent.ID, failed[0].ID, "most recently failed first")

	failed, err = m.ListFailed(ctx, 1)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	purged, err := m.PurgeFailedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	_, err = m.GetJob(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	cleared, err := m.ClearFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
	_, err = m.GetJob(ctx, recent.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemory_ListRecentPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		job := insertPending(t, m, "u")
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := m.ListRecent(ctx, 2, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	cursor := &JobCursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID}
	page, err = m.ListRecent(ctx, 10, cursor)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[0], page[2].ID)
}

func TestMemory_CountByStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	insertPending(t, m, "u1")
	insertPending(t, m, "u2")
	failed := insertPending(t, m, "u3")
	require.NoError(t, m.MarkFailed(ctx, failed.ID, domain.CodeNormalizeError))

	counts, err := m.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.JobStatusPending])
	assert.Equal(t, 1, counts[domain.JobStatusFailed])
}

func TestMemory_Assets(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	audio := "audio/h.wav"
	asset, err := m.UpsertAsset(ctx, "h", &audio, nil)
	require.NoError(t, err)
	assert.Equal(t, "h", asset.ContentHash)
	require.NotNil(t, asset.AudioRef)
	assert.Nil(t, asset.TranscriptRef)
	assert.False(t, asset.HasTranscript())

	transcript := "transcripts/h.json"
	asset, err = m.UpsertAsset(ctx, "h", &audio, &transcript)
	require.NoError(t, err)
	assert.True(t, asset.HasTranscript())

	got, err := m.GetAsset(ctx, "h")
	require.NoError(t, err)
	require.NotNil(t, got.TranscriptRef)
	assert.Equal(t, transcript, *got.TranscriptRef)

	// A later upsert with nil refs must not blank out existing ones.
	asset, err = m.UpsertAsset(ctx, "h", &audio, nil)
	require.NoError(t, err)
	require.NotNil(t, asset.TranscriptRef)
	assert.Equal(t, transcript, *asset.TranscriptRef)

	_, err = m.GetAsset(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}

func TestMemory_SetArtifactRefsAndCacheHit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	job := insertPending(t, m, "u")

	audio := "audio/h.wav"
	transcript := "transcripts/h.json"
	require.NoError(t, m.SetArtifactRefs(ctx, job.ID, &audio, &transcript))
	require.NoError(t, m.SetCacheHit(ctx, job.ID, true))

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AudioRef)
	assert.Equal(t, audio, *got.AudioRef)
	require.NotNil(t, got.TranscriptRef)
	assert.Equal(t, transcript, *got.TranscriptRef)
	assert.True(t, got.CacheHit)
}
