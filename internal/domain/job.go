package domain

import "time"

// JobStatus enumerates the states a job moves through. PENDING is the only
// initial state; COMPLETE and FAILED are terminal.
type JobStatus string

const (
	JobStatusPending          JobStatus = "PENDING"
	JobStatusFetchingMedia    JobStatus = "FETCHING_MEDIA"
	JobStatusNormalizingMedia JobStatus = "NORMALIZING_MEDIA"
	JobStatusMediaReady       JobStatus = "MEDIA_READY"
	JobStatusTranscribing     JobStatus = "TRANSCRIBING"
	JobStatusComplete         JobStatus = "COMPLETE"
	JobStatusFailed           JobStatus = "FAILED"
)

// IsTerminal reports whether the status is COMPLETE or FAILED.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// ValidStatus reports whether s is one of the known job statuses.
func ValidStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusFetchingMedia, JobStatusNormalizingMedia,
		JobStatusMediaReady, JobStatusTranscribing, JobStatusComplete, JobStatusFailed:
		return true
	}
	return false
}

// NonTerminalStatuses returns every status a repair pass may reset.
func NonTerminalStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusFetchingMedia,
		JobStatusNormalizingMedia,
		JobStatusMediaReady,
		JobStatusTranscribing,
	}
}

// InFlightStatuses returns the non-terminal statuses that imply a worker has
// (or had) picked the job up. PENDING is excluded: an unclaimed job is
// backlog, not work in flight.
func InFlightStatuses() []JobStatus {
	return []JobStatus{
		JobStatusFetchingMedia,
		JobStatusNormalizingMedia,
		JobStatusMediaReady,
		JobStatusTranscribing,
	}
}

// Job is one unit of transcription work. Rows are mutated only through the
// store operations; pipeline code never writes fields directly.
type Job struct {
	ID             string     `db:"id" json:"id"`
	Status         JobStatus  `db:"status" json:"status"`
	RequestURL     string     `db:"request_url" json:"request_url"`
	IdempotencyKey *string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	ContentHash    *string    `db:"content_hash" json:"content_hash,omitempty"`
	AudioRef       *string    `db:"audio_ref" json:"audio_ref,omitempty"`
	TranscriptRef  *string    `db:"transcript_ref" json:"transcript_ref,omitempty"`
	ErrorCode      *ErrorCode `db:"error_message" json:"error_code,omitempty"`
	CacheHit       bool       `db:"cache_hit" json:"cache_hit"`
	LeaseOwner     *string    `db:"lease_owner" json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// LeaseHeldAt reports whether the job carries a live lease at the given
// instant: an owner is recorded and the expiry has not passed.
func (j *Job) LeaseHeldAt(now time.Time) bool {
	return j.LeaseOwner != nil && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now)
}

// Asset is the durable output of processing one piece of normalized content,
// keyed by its content hash. Multiple jobs may point at the same asset.
type Asset struct {
	ContentHash   string    `db:"content_hash" json:"content_hash"`
	AudioRef      *string   `db:"audio_ref" json:"audio_ref,omitempty"`
	TranscriptRef *string   `db:"transcript_ref" json:"transcript_ref,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// HasTranscript reports whether the asset already carries a transcript
// reference, i.e. whether a new job with the same hash can skip transcription.
func (a *Asset) HasTranscript() bool {
	return a != nil && a.TranscriptRef != nil && *a.TranscriptRef != ""
}
