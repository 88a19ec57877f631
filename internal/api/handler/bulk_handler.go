package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/questionnaire-be/internal/api/dto"
	"github.com/cuongbtq/questionnaire-be/internal/bulk"
	"github.com/gin-gonic/gin"
)

// SubmitArchive handles POST /api/v1/bulk/submissions/archive
func (h *BulkHandler) SubmitArchive(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	var req dto.BulkArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, err)
		return
	}

	result, err := h.bulk.SubmitArchive(c.Request.Context(), id, bulk.ArchiveRequest{
		TargetIDs: req.TargetIDs,
		Filters:   req.Filters.ToDomain(),
		Options:   req.Options.ToDomain(),
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// SubmitUpdate handles POST /api/v1/bulk/submissions/update
func (h *BulkHandler) SubmitUpdate(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	var req dto.BulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, err)
		return
	}

	result, err := h.bulk.SubmitUpdate(c.Request.Context(), id, bulk.UpdateRequest{
		TargetIDs: req.TargetIDs,
		Filters:   req.Filters.ToDomain(),
		Updates:   req.Updates.ToDomain(),
		Options:   req.Options.ToDomain(),
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// SubmitTemplateDelete handles POST /api/v1/bulk/templates/delete
func (h *BulkHandler) SubmitTemplateDelete(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	var req dto.TemplateDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, err)
		return
	}

	result, err := h.bulk.SubmitTemplateDelete(c.Request.Context(), id, bulk.TemplateDeleteRequest{
		TemplateIDs: req.TemplateIDs,
		Options:     req.Options.ToDomain(),
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *BulkHandler) GetJob(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")

	job, err := h.bulk.GetJob(c.Request.Context(), id, jobID)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// The runner stops before its next chunk; committed chunks stay committed.
func (h *BulkHandler) CancelJob(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")

	job, err := h.bulk.CancelJob(c.Request.Context(), id, jobID)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	h.logger.Info("Job cancellation accepted",
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
	)
	c.JSON(http.StatusAccepted, dto.NewJobResponse(job))
}
