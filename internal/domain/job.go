package domain

import "time"

const (
	DefaultBatchSize = 100
	MaxBatchSize     = 500
)

// JobType names the mutation a bulk job applies.
type JobType string

const (
	JobArchiveSubmissions JobType = "archive_submissions"
	JobUpdateStatus       JobType = "update_status"
	JobUpdateMetadata     JobType = "update_metadata"
	JobDeleteTemplates    JobType = "delete_templates"
)

// JobStatus constants
type JobStatus string

const (
	JobStatusPending            JobStatus = "pending"
	JobStatusInProgress         JobStatus = "in_progress"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusPartiallyCompleted JobStatus = "partially_completed"
	JobStatusFailed             JobStatus = "failed"
	JobStatusCancelled          JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartiallyCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Skip reasons recorded on job results.
const (
	SkipNotFound        = "not_found"
	SkipAlreadyArchived = "already_archived"
	SkipUnchanged       = "unchanged"
)

// JobFilters is the declarative target selection kept on the job for audit.
type JobFilters struct {
	LastActiveDate string            `firestore:"lastActiveDate,omitempty" json:"lastActiveDate,omitempty"`
	Status         []string          `firestore:"status,omitempty" json:"status,omitempty"`
	TemplateIDs    []string          `firestore:"templateIds,omitempty" json:"templateIds,omitempty"`
	Metadata       map[string]string `firestore:"metadata,omitempty" json:"metadata,omitempty"`
}

// JobUpdates carries the field changes of an update job.
type JobUpdates struct {
	Status   SubmissionStatus       `firestore:"status,omitempty" json:"status,omitempty"`
	Metadata map[string]interface{} `firestore:"metadata,omitempty" json:"metadata,omitempty"`
}

type JobOptions struct {
	DryRun    bool   `firestore:"dryRun" json:"dryRun"`
	BatchSize int    `firestore:"batchSize" json:"batchSize"`
	Reason    string `firestore:"reason,omitempty" json:"reason,omitempty"`
	Force     bool   `firestore:"force" json:"force"`
}

// Progress holds the monotonic job counters.
type Progress struct {
	Total      int `firestore:"total" json:"total"`
	Processed  int `firestore:"processed" json:"processed"`
	Successful int `firestore:"successful" json:"successful"`
	Failed     int `firestore:"failed" json:"failed"`
	Skipped    int `firestore:"skipped" json:"skipped"`
}

// Add returns p with every counter of delta added.
func (p Progress) Add(delta Progress) Progress {
	p.Processed += delta.Processed
	p.Successful += delta.Successful
	p.Failed += delta.Failed
	p.Skipped += delta.Skipped
	return p
}

type FailedItem struct {
	ID    string `firestore:"id" json:"id"`
	Error string `firestore:"error" json:"error"`
}

type SkippedItem struct {
	ID     string `firestore:"id" json:"id"`
	Reason string `firestore:"reason" json:"reason"`
}

// JobResult lists the per-item outcomes accumulated so far.
type JobResult struct {
	Successful []string      `firestore:"successful" json:"successful"`
	Failed     []FailedItem  `firestore:"failed" json:"failed"`
	Skipped    []SkippedItem `firestore:"skipped" json:"skipped"`
}

// Merge appends other's outcomes to r.
func (r *JobResult) Merge(other JobResult) {
	r.Successful = append(r.Successful, other.Successful...)
	r.Failed = append(r.Failed, other.Failed...)
	r.Skipped = append(r.Skipped, other.Skipped...)
}

// Progress derives the counters for the outcomes in r.
func (r JobResult) Progress() Progress {
	return Progress{
		Processed:  len(r.Successful) + len(r.Failed) + len(r.Skipped),
		Successful: len(r.Successful),
		Failed:     len(r.Failed),
		Skipped:    len(r.Skipped),
	}
}

// Job is a persisted bulk operation.
type Job struct {
	ID              string      `firestore:"-" json:"jobId"`
	Type            JobType     `firestore:"type" json:"type"`
	Status          JobStatus   `firestore:"status" json:"status"`
	CreatedBy       string      `firestore:"createdBy" json:"createdBy"`
	CreatedAt       time.Time   `firestore:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time   `firestore:"updatedAt" json:"updatedAt"`
	StartedAt       *time.Time  `firestore:"startedAt,omitempty" json:"startedAt,omitempty"`
	CompletedAt     *time.Time  `firestore:"completedAt,omitempty" json:"completedAt,omitempty"`
	TargetIDs       []string    `firestore:"targetIds" json:"targetIds"`
	Filters         *JobFilters `firestore:"filters,omitempty" json:"filters,omitempty"`
	Updates         *JobUpdates `firestore:"updates,omitempty" json:"updates,omitempty"`
	Options         JobOptions  `firestore:"options" json:"options"`
	Progress        Progress    `firestore:"progress" json:"progress"`
	Result          JobResult   `firestore:"result" json:"result"`
	Error           string      `firestore:"error,omitempty" json:"error,omitempty"`
	CancelRequested bool        `firestore:"cancelRequested" json:"cancelRequested"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	c := *j
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.TargetIDs = append([]string(nil), j.TargetIDs...)
	if j.Filters != nil {
		f := *j.Filters
		f.Status = append([]string(nil), j.Filters.Status...)
		f.TemplateIDs = append([]string(nil), j.Filters.TemplateIDs...)
		if j.Filters.Metadata != nil {
			f.Metadata = make(map[string]string, len(j.Filters.Metadata))
			for k, v := range j.Filters.Metadata {
				f.Metadata[k] = v
			}
		}
		c.Filters = &f
	}
	if j.Updates != nil {
		u := *j.Updates
		u.Metadata = cloneMap(j.Updates.Metadata)
		c.Updates = &u
	}
	c.Result = JobResult{
		Successful: append([]string(nil), j.Result.Successful...),
		Failed:     append([]FailedItem(nil), j.Result.Failed...),
		Skipped:    append([]SkippedItem(nil), j.Result.Skipped...),
	}
	return &c
}

// JobMessage represents a job message from the queue
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
