package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/mediascribe/internal/domain"
)

// Memory is the in-memory Store used by tests and degraded mode. One map per
// table, both behind a single mutex; nothing is reachable outside this type.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	assets map[string]*domain.Asset
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[string]*domain.Job),
		assets: make(map[string]*domain.Asset),
	}
}

func (m *Memory) InsertJob(ctx context.Context, nj NewJob) (*domain.Job, error) {
	if !domain.ValidStatus(nj.Status) {
		return nil, domain.ErrInvalidStatus
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	j := &domain.Job{
		ID:             uuid.New().String(),
		Status:         nj.Status,
		RequestURL:     nj.RequestURL,
		IdempotencyKey: cloneStr(nj.IdempotencyKey),
		ContentHash:    cloneStr(nj.ContentHash),
		AudioRef:       cloneStr(nj.AudioRef),
		TranscriptRef:  cloneStr(nj.TranscriptRef),
		CacheHit:       nj.CacheHit,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.jobs[j.ID] = j
	return cloneJob(j), nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (m *Memory) GetJobByHash(ctx context.Context, hash string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *domain.Job
	for _, j := range m.jobs {
		if j.Status != domain.JobStatusComplete || j.ContentHash == nil || *j.ContentHash != hash {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(latest), nil
}

func (m *Memory) GetJobByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *domain.Job
	for _, j := range m.jobs {
		if j.IdempotencyKey == nil || *j.IdempotencyKey != key {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(latest), nil
}

func (m *Memory) UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error {
	if !domain.ValidStatus(status) {
		return domain.ErrInvalidStatus
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id string, code domain.ErrorCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	c := code
	j.Status = domain.JobStatusFailed
	j.ErrorCode = &c
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetContentHash(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if j.ContentHash != nil && *j.ContentHash != hash {
		return domain.ErrContentHashSet
	}
	h := hash
	j.ContentHash = &h
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetArtifactRefs(ctx context.Context, id string, audioRef, transcriptRef *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.AudioRef = cloneStr(audioRef)
	j.TranscriptRef = cloneStr(transcriptRef)
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetCacheHit(ctx context.Context, id string, hit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.CacheHit = hit
	j.UpdatedAt = time.Now()
	return nil
}

// ClaimJobs runs entirely inside the store lock: candidate selection, FIFO
// ordering and lease assignment are one critical section, so two claimers
// can never be handed the same job.
func (m *Memory) ClaimJobs(ctx context.Context, status domain.JobStatus, limit int, workerID string, lease time.Duration) ([]*domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var candidates []*domain.Job
	for _, j := range m.jobs {
		if j.Status == status && !j.LeaseHeldAt(now) {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].ID < candidates[k].ID
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*domain.Job, 0, len(candidates))
	for _, j := range candidates {
		owner := workerID
		exp := now.Add(lease)
		j.LeaseOwner = &owner
		j.LeaseExpiresAt = &exp
		j.UpdatedAt = now
		claimed = append(claimed, cloneJob(j))
	}
	return claimed, nil
}

func (m *Memory) RenewLease(ctx context.Context, id string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	now := time.Now()
	exp := now.Add(lease)
	j.LeaseExpiresAt = &exp
	j.UpdatedAt = now
	return nil
}

func (m *Memory) ReleaseLease(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) ResetExpiredLeases(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	repaired := 0
	for _, j := range m.jobs {
		if j.Status.IsTerminal() {
			continue
		}
		if j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		m.resetToPending(j, now)
		repaired++
	}
	return repaired, nil
}

func (m *Memory) FailOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-olderThan)
	failed := 0
	for _, j := range m.jobs {
		if !inFlight(j.Status) || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		code := domain.CodeJobOrphanedTimeout
		j.Status = domain.JobStatusFailed
		j.ErrorCode = &code
		j.LeaseOwner = nil
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		failed++
	}
	return failed, nil
}

func (m *Memory) ResetInFlight(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	reset := 0
	for _, j := range m.jobs {
		if !inFlight(j.Status) {
			continue
		}
		m.resetToPending(j, now)
		reset++
	}
	return reset, nil
}

func (m *Memory) ListStuck(ctx context.Context, staleAfter time.Duration) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var stuck []*domain.Job
	for _, j := range m.jobs {
		if m.isStuck(j, now, staleAfter) {
			stuck = append(stuck, cloneJob(j))
		}
	}
	sort.Slice(stuck, func(i, k int) bool { return stuck[i].CreatedAt.Before(stuck[k].CreatedAt) })
	return stuck, nil
}

func (m *Memory) RepairStuck(ctx context.Context, staleAfter time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	repaired := 0
	for _, j := range m.jobs {
		if !m.isStuck(j, now, staleAfter) {
			continue
		}
		m.resetToPending(j, now)
		repaired++
	}
	return repaired, nil
}

func (m *Memory) ListFailed(ctx context.Context, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []*domain.Job
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusFailed {
			failed = append(failed, cloneJob(j))
		}
	}
	sort.Slice(failed, func(i, k int) bool { return failed[i].UpdatedAt.After(failed[k].UpdatedAt) })
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

func (m *Memory) ClearFailed(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleared := 0
	for id, j := range m.jobs {
		if j.Status == domain.JobStatusFailed {
			delete(m.jobs, id)
			cleared++
		}
	}
	return cleared, nil
}

func (m *Memory) PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for id, j := range m.jobs {
		if j.Status == domain.JobStatusFailed && j.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			purged++
		}
	}
	return purged, nil
}

func (m *Memory) ListRecent(ctx context.Context, limit int, before *JobCursor) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []*domain.Job
	for _, j := range m.jobs {
		if before != nil && !olderThanCursor(j, before) {
			continue
		}
		jobs = append(jobs, cloneJob(j))
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// olderThanCursor orders by (created_at, id) descending, matching the
// Postgres row comparison so both backends page identically.
func olderThanCursor(j *domain.Job, c *JobCursor) bool {
	if j.CreatedAt.Equal(c.CreatedAt) {
		return j.ID < c.ID
	}
	return j.CreatedAt.Before(c.CreatedAt)
}

func (m *Memory) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[domain.JobStatus]int)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *Memory) UpsertAsset(ctx context.Context, hash string, audioRef, transcriptRef *string) (*domain.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	a, ok := m.assets[hash]
	if !ok {
		a = &domain.Asset{ContentHash: hash, CreatedAt: now}
		m.assets[hash] = a
	}
	if audioRef != nil {
		a.AudioRef = cloneStr(audioRef)
	}
	if transcriptRef != nil {
		a.TranscriptRef = cloneStr(transcriptRef)
	}
	a.UpdatedAt = now
	return cloneAsset(a), nil
}

func (m *Memory) GetAsset(ctx context.Context, hash string) (*domain.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[hash]
	if !ok {
		return nil, domain.ErrAssetNotFound
	}
	return cloneAsset(a), nil
}

// resetToPending is the shared repair transition. It never touches
// content_hash or artifact references. Caller holds the lock.
func (m *Memory) resetToPending(j *domain.Job, now time.Time) {
	j.Status = domain.JobStatusPending
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
}

func (m *Memory) isStuck(j *domain.Job, now time.Time, staleAfter time.Duration) bool {
	if !inFlight(j.Status) {
		return false
	}
	if j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
		return true
	}
	return j.UpdatedAt.Before(now.Add(-staleAfter))
}

func inFlight(s domain.JobStatus) bool {
	for _, st := range domain.InFlightStatuses() {
		if s == st {
			return true
		}
	}
	return false
}

// cloneJob hands callers an independent copy so later store mutations (or
// caller writes) cannot alias the row under the lock.
func cloneJob(j *domain.Job) *domain.Job {
	cp := *j
	cp.IdempotencyKey = cloneStr(j.IdempotencyKey)
	cp.ContentHash = cloneStr(j.ContentHash)
	cp.AudioRef = cloneStr(j.AudioRef)
	cp.TranscriptRef = cloneStr(j.TranscriptRef)
	cp.LeaseOwner = cloneStr(j.LeaseOwner)
	if j.ErrorCode != nil {
		c := *j.ErrorCode
		cp.ErrorCode = &c
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	return &cp
}

func cloneAsset(a *domain.Asset) *domain.Asset {
	cp := *a
	cp.AudioRef = cloneStr(a.AudioRef)
	cp.TranscriptRef = cloneStr(a.TranscriptRef)
	return &cp
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
