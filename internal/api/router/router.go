package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/mediascribe/internal/api/handler"
)

// Config holds router configuration
type Config struct {
	// RateLimitRPS is the sustained submission rate allowed per client IP.
	// Zero or negative disables the submission rate limit.
	RateLimitRPS float64
	// RateLimitBurst is the bucket size granted to each client.
	RateLimitBurst int
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, cfg *Config) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "transcription-api-service",
		})
	})

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	submit := []gin.HandlerFunc{jobHandler.SubmitTranscription}
	if cfg != nil && cfg.RateLimitRPS > 0 {
		submit = append([]gin.HandlerFunc{RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)}, submit...)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		transcriptions := v1.Group("/transcriptions")
		{
			// POST /api/v1/transcriptions - Submit a media URL for transcription
			transcriptions.POST("", submit...)

			// GET /api/v1/transcriptions - List jobs with cursor pagination
			transcriptions.GET("", jobHandler.ListTranscriptions)

			// GET /api/v1/transcriptions/:job_id - Get job status
			transcriptions.GET("/:job_id", jobHandler.GetTranscription)

			// GET /api/v1/transcriptions/:job_id/transcript - Get the transcript document
			transcriptions.GET("/:job_id/transcript", jobHandler.GetTranscript)
		}

		admin := v1.Group("/admin")
		{
			// GET /api/v1/admin/queue - Job counts per status
			admin.GET("/queue", jobHandler.GetQueue)

			// GET /api/v1/admin/jobs/failed - List failed jobs
			admin.GET("/jobs/failed", jobHandler.ListFailedJobs)

			// DELETE /api/v1/admin/jobs/failed - Clear failed jobs
			admin.DELETE("/jobs/failed", jobHandler.ClearFailedJobs)

			// GET /api/v1/admin/jobs/stuck - List stuck in-flight jobs
			admin.GET("/jobs/stuck", jobHandler.ListStuckJobs)

			// POST /api/v1/admin/jobs/stuck/repair - Reset stuck jobs to PENDING
			admin.POST("/jobs/stuck/repair", jobHandler.RepairStuckJobs)
		}
	}

	return r
}
