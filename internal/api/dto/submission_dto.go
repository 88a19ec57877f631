package dto

type QuerySubmissionsRequest struct {
	UserID        string `form:"userId"`
	Status        string `form:"status"`
	TemplateID    string `form:"templateId"`
	SortField     string `form:"sortField"`
	SortDirection string `form:"sortDirection"`
	PageSize      int    `form:"pageSize" binding:"min=0"`
	PageToken     string `form:"pageToken"`
}

type CreateSubmissionRequest struct {
	UserID     string                 `json:"userId"`
	TemplateID string                 `json:"templateId" binding:"required"`
	Responses  map[string]interface{} `json:"responses" binding:"required"`
	Status     string                 `json:"status" binding:"omitempty,oneof=in_progress completed"`
}

type UpdateSubmissionRequest struct {
	Status     string                 `json:"status" binding:"omitempty,oneof=in_progress completed archived"`
	Responses  map[string]interface{} `json:"responses"`
	TemplateID string                 `json:"templateId"`
}

type ArchiveSubmissionRequest struct {
	Reason string `json:"reason" binding:"max=500"`
	Force  bool   `json:"force"`
}

type BatchArchiveRequest struct {
	SubmissionIDs []string `json:"submissionIds" binding:"required,min=1,max=500,dive,required"`
	Reason        string   `json:"reason" binding:"max=500"`
	Force         bool     `json:"force"`
}
