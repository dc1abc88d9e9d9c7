package dto

import (
	"time"

	"github.com/cuongbtq/mediascribe/internal/domain"
	"github.com/cuongbtq/mediascribe/internal/service"
)

// SubmitTranscriptionRequest is the body of POST /api/v1/transcriptions.
type SubmitTranscriptionRequest struct {
	URL            string `json:"url" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// JobResponse is the external view of a job. Artifact refs appear once the
// pipeline produced them; error fields only on FAILED jobs.
type JobResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	RequestURL    string `json:"request_url"`
	ContentHash   string `json:"content_hash,omitempty"`
	AudioRef      string `json:"audio_ref,omitempty"`
	TranscriptRef string `json:"transcript_ref,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	// Retryable tells clients whether re-submitting the same URL could
	// plausibly succeed. Only set on FAILED jobs.
	Retryable *bool  `json:"retryable,omitempty"`
	CacheHit  bool   `json:"cache_hit"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// NewJobResponse maps a job onto its external view.
func NewJobResponse(job *domain.Job) JobResponse {
	resp := JobResponse{
		JobID:      job.ID,
		Status:     string(job.Status),
		RequestURL: job.RequestURL,
		CacheHit:   job.CacheHit,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  job.UpdatedAt.Format(time.RFC3339),
	}
	if job.ContentHash != nil {
		resp.ContentHash = *job.ContentHash
	}
	if job.AudioRef != nil {
		resp.AudioRef = *job.AudioRef
	}
	if job.TranscriptRef != nil {
		resp.TranscriptRef = *job.TranscriptRef
	}
	if job.ErrorCode != nil {
		resp.ErrorCode = string(*job.ErrorCode)
		resp.ErrorMessage = service.FailureMessage(*job.ErrorCode)
		retryable := job.ErrorCode.Retryable()
		resp.Retryable = &retryable
	}
	return resp
}

// NewJobResponses maps a job slice onto its external view.
func NewJobResponses(jobs []*domain.Job) []JobResponse {
	resp := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		resp[i] = NewJobResponse(job)
	}
	return resp
}

// ListJobsRequest carries pagination parameters for job listings.
type ListJobsRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is a page of jobs plus the cursor for the next page.
type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// TranscriptResponse is the body of GET /api/v1/transcriptions/:job_id/transcript.
type TranscriptResponse struct {
	JobID       string `json:"job_id"`
	SourceURL   string `json:"source_url"`
	ContentHash string `json:"content_hash"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
}

// QueueResponse reports per-status job counts.
type QueueResponse struct {
	Counts map[string]int `json:"counts"`
}

// RepairResponse reports how many stuck jobs a repair pass reset.
type RepairResponse struct {
	Repaired int `json:"repaired"`
}

// ClearResponse reports how many failed jobs were deleted.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}
