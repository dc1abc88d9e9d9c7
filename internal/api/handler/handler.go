package handler

import (
	"log/slog"
	"time"

	"github.com/cuongbtq/mediascribe/internal/service"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service *service.Service
	// StuckThreshold is how stale an in-flight job must be before the
	// admin endpoints report it as stuck. Zero means the service default.
	StuckThreshold time.Duration
}

// JobHandler handles transcription job HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	service        *service.Service
	stuckThreshold time.Duration
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:         deps.Logger,
		service:        deps.Service,
		stuckThreshold: deps.StuckThreshold,
	}
}
