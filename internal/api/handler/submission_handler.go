package handler

import (
	"net/http"

	"github.com/cuongbtq/questionnaire-be/internal/api/dto"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/submission"
	"github.com/gin-gonic/gin"
)

// Query handles GET /api/v1/submissions
func (h *SubmissionHandler) Query(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	var req dto.QuerySubmissionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		writeBindError(c, h.logger, err)
		return
	}

	result, err := h.submissions.Query(c.Request.Context(), id, submission.QueryOptions{
		UserID:        req.UserID,
		Status:        req.Status,
		TemplateID:    req.TemplateID,
		SortField:     req.SortField,
		SortDirection: req.SortDirection,
		PageSize:      req.PageSize,
		PageToken:     req.PageToken,
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Create handles POST /api/v1/submissions
func (h *SubmissionHandler) Create(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	var req dto.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, err)
		return
	}

	sub, err := h.submissions.Create(c.Request.Context(), id, submission.CreateRequest{
		UserID:     req.UserID,
		TemplateID: req.TemplateID,
		Responses:  req.Responses,
		Status:     domain.SubmissionStatus(req.Status),
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// Update handles PATCH /api/v1/submissions/:submission_id
func (h *SubmissionHandler) Update(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	var req dto.UpdateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, err)
		return
	}

	err := h.submissions.Update(c.Request.Context(), id, submission.UpdateRequest{
		SubmissionID: c.Param("submission_id"),
		Status:       domain.SubmissionStatus(req.Status),
		Responses:    req.Responses,
		TemplateID:   req.TemplateID,
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Archive handles POST /api/v1/submissions/:submission_id/archive
func (h *SubmissionHandler) Archive(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	var req dto.ArchiveSubmissionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, h.logger, err)
			return
		}
	}

	_, err := h.submissions.Archive(c.Request.Context(), id, submission.ArchiveRequest{
		SubmissionID: c.Param("submission_id"),
		Reason:       req.Reason,
		Force:        req.Force,
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// BatchArchive handles POST /api/v1/submissions/archive
func (h *SubmissionHandler) BatchArchive(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	var req dto.BatchArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, err)
		return
	}

	result, err := h.submissions.BatchArchive(c.Request.Context(), id, submission.BatchArchiveRequest{
		SubmissionIDs: req.SubmissionIDs,
		Reason:        req.Reason,
		Force:         req.Force,
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  len(result.Failed) == 0,
		"archived": result.Archived,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	})
}

// ListVersions handles GET /api/v1/submissions/:submission_id/versions
func (h *SubmissionHandler) ListVersions(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	versions, err := h.submissions.ListVersions(c.Request.Context(), id, c.Param("submission_id"))
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	if versions == nil {
		versions = []domain.Version{}
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}
