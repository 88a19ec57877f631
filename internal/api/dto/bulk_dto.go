package dto

import (
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
)

type JobFilters struct {
	LastActiveDate string            `json:"lastActiveDate" binding:"omitempty,isodate"`
	Status         []string          `json:"status" binding:"omitempty,dive,oneof=in_progress completed archived"`
	TemplateIDs    []string          `json:"templateIds" binding:"omitempty,dive,required"`
	Metadata       map[string]string `json:"metadata"`
}

type JobOptions struct {
	DryRun    bool   `json:"dryRun"`
	BatchSize int    `json:"batchSize" binding:"omitempty,min=1,max=500"`
	Reason    string `json:"reason" binding:"max=500"`
	Force     bool   `json:"force"`
}

type JobUpdates struct {
	Status   string                 `json:"status" binding:"omitempty,oneof=in_progress completed archived"`
	Metadata map[string]interface{} `json:"metadata"`
}

// BulkArchiveRequest is the body of POST /bulk/submissions/archive.
type BulkArchiveRequest struct {
	TargetIDs []string    `json:"targetIds" binding:"omitempty,dive,required"`
	Filters   *JobFilters `json:"filters"`
	Options   JobOptions  `json:"options"`
}

// BulkUpdateRequest is the body of POST /bulk/submissions/update.
type BulkUpdateRequest struct {
	TargetIDs []string    `json:"targetIds" binding:"omitempty,dive,required"`
	Filters   *JobFilters `json:"filters"`
	Updates   *JobUpdates `json:"updates" binding:"required"`
	Options   JobOptions  `json:"options"`
}

// TemplateDeleteRequest is the body of POST /bulk/templates/delete.
type TemplateDeleteRequest struct {
	TemplateIDs []string   `json:"templateIds" binding:"required,min=1,dive,required"`
	Options     JobOptions `json:"options"`
}

func (f *JobFilters) ToDomain() *domain.JobFilters {
	if f == nil {
		return nil
	}
	return &domain.JobFilters{
		LastActiveDate: f.LastActiveDate,
		Status:         f.Status,
		TemplateIDs:    f.TemplateIDs,
		Metadata:       f.Metadata,
	}
}

func (o JobOptions) ToDomain() domain.JobOptions {
	return domain.JobOptions{
		DryRun:    o.DryRun,
		BatchSize: o.BatchSize,
		Reason:    o.Reason,
		Force:     o.Force,
	}
}

func (u *JobUpdates) ToDomain() *domain.JobUpdates {
	if u == nil {
		return nil
	}
	return &domain.JobUpdates{
		Status:   domain.SubmissionStatus(u.Status),
		Metadata: u.Metadata,
	}
}

// JobResponse is the status view of a bulk job.
type JobResponse struct {
	JobID           string             `json:"jobId"`
	Type            string             `json:"type"`
	Status          string             `json:"status"`
	CreatedBy       string             `json:"createdBy"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt"`
	StartedAt       string             `json:"startedAt,omitempty"`
	CompletedAt     string             `json:"completedAt,omitempty"`
	Progress        domain.Progress    `json:"progress"`
	Result          domain.JobResult   `json:"result"`
	Options         domain.JobOptions  `json:"options"`
	Filters         *domain.JobFilters `json:"filters,omitempty"`
	Error           string             `json:"error,omitempty"`
	CancelRequested bool               `json:"cancelRequested"`
}

func NewJobResponse(job *domain.Job) JobResponse {
	resp := JobResponse{
		JobID:           job.ID,
		Type:            string(job.Type),
		Status:          string(job.Status),
		CreatedBy:       job.CreatedBy,
		CreatedAt:       formatTime(job.CreatedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
		Progress:        job.Progress,
		Result:          job.Result,
		Options:         job.Options,
		Filters:         job.Filters,
		Error:           job.Error,
		CancelRequested: job.CancelRequested,
	}
	if job.StartedAt != nil {
		resp.StartedAt = formatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = formatTime(*job.CompletedAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
