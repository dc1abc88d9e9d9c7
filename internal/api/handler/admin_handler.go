package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/mediascribe/internal/api/dto"
)

// GetQueue handles GET /api/v1/admin/queue
// Reports job counts per status.
func (h *JobHandler) GetQueue(c *gin.Context) {
	counts, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count jobs",
		})
		return
	}

	resp := dto.QueueResponse{Counts: make(map[string]int, len(counts))}
	for status, count := range counts {
		resp.Counts[string(status)] = count
	}
	c.JSON(http.StatusOK, resp)
}

// ListFailedJobs handles GET /api/v1/admin/jobs/failed
// Lists failed jobs newest-first.
func (h *JobHandler) ListFailedJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	jobs, err := h.service.ListFailed(c.Request.Context(), req.PageSize)
	if err != nil {
		h.logger.Error("Failed to list failed jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list failed jobs",
		})
		return
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: dto.NewJobResponses(jobs)})
}

// ClearFailedJobs handles DELETE /api/v1/admin/jobs/failed
// Deletes all failed jobs.
func (h *JobHandler) ClearFailedJobs(c *gin.Context) {
	cleared, err := h.service.ClearFailed(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to clear failed jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to clear failed jobs",
		})
		return
	}

	c.JSON(http.StatusOK, dto.ClearResponse{Cleared: cleared})
}

// ListStuckJobs handles GET /api/v1/admin/jobs/stuck
// Lists in-flight jobs that look abandoned.
func (h *JobHandler) ListStuckJobs(c *gin.Context) {
	jobs, err := h.service.ListStuck(c.Request.Context(), h.stuckThreshold)
	if err != nil {
		h.logger.Error("Failed to list stuck jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list stuck jobs",
		})
		return
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: dto.NewJobResponses(jobs)})
}

// RepairStuckJobs handles POST /api/v1/admin/jobs/stuck/repair
// Resets abandoned in-flight jobs back to PENDING.
func (h *JobHandler) RepairStuckJobs(c *gin.Context) {
	repaired, err := h.service.RepairStuck(c.Request.Context(), h.stuckThreshold)
	if err != nil {
		h.logger.Error("Failed to repair stuck jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to repair stuck jobs",
		})
		return
	}

	c.JSON(http.StatusOK, dto.RepairResponse{Repaired: repaired})
}
