package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/mediascribe/internal/api/dto"
	"github.com/cuongbtq/mediascribe/internal/domain"
	"github.com/cuongbtq/mediascribe/internal/service"
	"github.com/cuongbtq/mediascribe/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// SubmitTranscription handles POST /api/v1/transcriptions
// Accepts a media URL and queues it for transcription. Returns 202 with the
// queued job, or 200 when the job already exists (idempotency key match) or
// completed instantly from the cache.
func (h *JobHandler) SubmitTranscription(c *gin.Context) {
	var req dto.SubmitTranscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	result, err := h.service.Submit(c.Request.Context(), service.SubmitInput{
		URL:            req.URL,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidURL) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "url must be a valid http or https URL",
			})
			return
		}
		h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job",
		})
		return
	}

	status := http.StatusAccepted
	if result.Existing || result.Job.Status.IsTerminal() {
		status = http.StatusOK
	}
	c.JSON(status, dto.NewJobResponse(result.Job))
}

// GetTranscription handles GET /api/v1/transcriptions/:job_id
// Returns the current status view of a job.
func (h *JobHandler) GetTranscription(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.service.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

// GetTranscript handles GET /api/v1/transcriptions/:job_id/transcript
// Returns the transcript document of a completed job.
func (h *JobHandler) GetTranscript(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	doc, err := h.service.Transcript(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, service.ErrTranscriptNotReady):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Transcript not ready",
			})
		default:
			h.logger.Error("Failed to get transcript", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to get transcript",
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.TranscriptResponse{
		JobID:       jobID,
		SourceURL:   doc.SourceURL,
		ContentHash: doc.ContentHash,
		Text:        doc.Text,
		CreatedAt:   doc.CreatedAt.Format(time.RFC3339),
	})
}

// ListTranscriptions handles GET /api/v1/transcriptions
// Lists jobs newest-first with cursor pagination.
func (h *JobHandler) ListTranscriptions(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	jobs, err := h.service.ListRecent(c.Request.Context(), req.PageSize+1, cursor)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	var nextCursor string
	if len(jobs) > req.PageSize {
		jobs = jobs[:req.PageSize]
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&store.JobCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       dto.NewJobResponses(jobs),
		NextCursor: nextCursor,
	})
}

// jobIDParam validates the job_id path parameter.
func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}
