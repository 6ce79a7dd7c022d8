package handlers

import (
	"errors"
	"net/http"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// JobHandler exposes sync job management over HTTP
type JobHandler struct {
	scheduler *services.Scheduler
	logger    *logging.SafeLogger
}

// NewJobHandler creates a job handler
func NewJobHandler(scheduler *services.Scheduler, logger *logging.SafeLogger) *JobHandler {
	return &JobHandler{scheduler: scheduler, logger: logger}
}

func (h *JobHandler) jobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
	case errors.Is(err, models.ErrJobNameExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "a job with that name already exists"})
	case errors.Is(err, models.ErrInvalidCron),
		errors.Is(err, models.ErrMissingJobName),
		errors.Is(err, models.ErrMissingJobTables):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("job operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// CreateJob handles POST /v1/sync/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "CreateJob")
	defer span.End()

	var job models.SyncJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	span.SetAttributes(attribute.String("job.name", job.Name))

	id, err := h.scheduler.Schedule(ctx, &job)
	if err != nil {
		h.jobError(c, err)
		return
	}

	created, err := h.scheduler.GetJob(id)
	if err != nil {
		h.jobError(c, err)
		return
	}

	h.logger.Info("sync job created",
		zap.String("job_id", created.ID),
		zap.String("name", created.Name),
		zap.String("cron", created.Cron))
	c.JSON(http.StatusCreated, created)
}

// ListJobs handles GET /v1/sync/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	_, span := otel.Tracer("").Start(c.Request.Context(), "ListJobs")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"jobs": h.scheduler.ListJobs()})
}

// GetJob handles GET /v1/sync/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	_, span := otel.Tracer("").Start(c.Request.Context(), "GetJob")
	defer span.End()

	job, err := h.scheduler.GetJob(c.Param("id"))
	if err != nil {
		h.jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// UpdateJob handles PATCH /v1/sync/jobs/:id with partial fields
func (h *JobHandler) UpdateJob(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "UpdateJob")
	defer span.End()

	var update models.SyncJobUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.scheduler.UpdateJob(ctx, c.Param("id"), &update); err != nil {
		h.jobError(c, err)
		return
	}

	job, err := h.scheduler.GetJob(c.Param("id"))
	if err != nil {
		h.jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// DeleteJob handles DELETE /v1/sync/jobs/:id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "DeleteJob")
	defer span.End()

	if err := h.scheduler.Unschedule(ctx, c.Param("id")); err != nil {
		h.jobError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// enabledRequest toggles a job's enabled flag
type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetJobEnabled handles PUT /v1/sync/jobs/:id/enabled
func (h *JobHandler) SetJobEnabled(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "SetJobEnabled")
	defer span.End()

	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.scheduler.SetEnabled(ctx, c.Param("id"), *req.Enabled); err != nil {
		h.jobError(c, err)
		return
	}

	job, err := h.scheduler.GetJob(c.Param("id"))
	if err != nil {
		h.jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// TriggerJob handles POST /v1/sync/jobs/:id/trigger, running the job
// immediately regardless of its cron schedule
func (h *JobHandler) TriggerJob(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "TriggerJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", c.Param("id")))

	if err := h.scheduler.TriggerJob(ctx, c.Param("id")); err != nil {
		if errors.Is(err, services.ErrSchedulerBusy) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "another sync is already running"})
			return
		}
		h.jobError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

// GetStats handles GET /v1/sync/stats
func (h *JobHandler) GetStats(c *gin.Context) {
	_, span := otel.Tracer("").Start(c.Request.Context(), "GetSyncStats")
	defer span.End()

	c.JSON(http.StatusOK, h.scheduler.GetStats())
}
