package domain

import (
	"fmt"
	"time"
)

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	SubmissionInProgress SubmissionStatus = "in_progress"
	SubmissionCompleted  SubmissionStatus = "completed"
	SubmissionArchived   SubmissionStatus = "archived"
)

var validTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionInProgress: {SubmissionCompleted},
	SubmissionCompleted:  {SubmissionArchived},
	SubmissionArchived:   {},
}

// IsValid reports whether s is a known status.
func (s SubmissionStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is allowed by the lifecycle.
func CanTransition(from, to SubmissionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Submission is one user's set of answers against a template.
type Submission struct {
	ID            string                 `firestore:"-" json:"id"`
	UserID        string                 `firestore:"userId" json:"userId"`
	TemplateID    string                 `firestore:"templateId" json:"templateId"`
	Responses     map[string]interface{} `firestore:"responses" json:"responses"`
	Status        SubmissionStatus       `firestore:"status" json:"status"`
	CreatedAt     time.Time              `firestore:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time              `firestore:"updatedAt" json:"updatedAt"`
	UpdatedBy     string                 `firestore:"updatedBy,omitempty" json:"updatedBy,omitempty"`
	CompletedAt   *time.Time             `firestore:"completedAt,omitempty" json:"completedAt,omitempty"`
	ArchivedAt    *time.Time             `firestore:"archivedAt,omitempty" json:"archivedAt,omitempty"`
	ArchivedBy    string                 `firestore:"archivedBy,omitempty" json:"archivedBy,omitempty"`
	ArchiveReason string                 `firestore:"archiveReason,omitempty" json:"archiveReason,omitempty"`
	Metadata      map[string]interface{} `firestore:"metadata,omitempty" json:"metadata,omitempty"`
	Version       int                    `firestore:"version" json:"version"`
}

// Clone returns a copy that shares no maps or pointers with s.
func (s *Submission) Clone() *Submission {
	c := *s
	c.Responses = cloneMap(s.Responses)
	c.Metadata = cloneMap(s.Metadata)
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.ArchivedAt = cloneTime(s.ArchivedAt)
	return &c
}

// ArchiveDecision applies the archive policy shared by single, batch and bulk
// archiving. It returns a skip reason, or an error when s must not be archived.
// force only re-marks submissions that are already archived; it never bypasses
// the lifecycle.
func ArchiveDecision(status SubmissionStatus, force bool) (string, error) {
	switch {
	case status == SubmissionArchived && !force:
		return SkipAlreadyArchived, nil
	case status == SubmissionArchived:
		return "", nil
	case CanTransition(status, SubmissionArchived):
		return "", nil
	default:
		return "", fmt.Errorf("invalid status transition from %s to %s", status, SubmissionArchived)
	}
}

// MarkArchived stamps the archive fields on s.
func (s *Submission) MarkArchived(by, reason string, now time.Time) {
	archivedAt := now
	s.Status = SubmissionArchived
	s.ArchivedAt = &archivedAt
	s.ArchivedBy = by
	s.ArchiveReason = reason
	s.UpdatedAt = now
	s.UpdatedBy = by
}

// ChangeType classifies a versioned update.
type ChangeType string

const (
	ChangeStatus    ChangeType = "status"
	ChangeResponses ChangeType = "responses"
	ChangeTemplate  ChangeType = "template"
	ChangeMetadata  ChangeType = "metadata"
)

// ClassifyChange picks the change type for an update touching the given fields.
// Status wins over responses, responses over template.
func ClassifyChange(statusChanged, responsesChanged, templateChanged bool) ChangeType {
	switch {
	case statusChanged:
		return ChangeStatus
	case responsesChanged:
		return ChangeResponses
	case templateChanged:
		return ChangeTemplate
	default:
		return ChangeResponses
	}
}

// Version is an immutable pre-update snapshot of a submission.
type Version struct {
	VersionID    string     `firestore:"versionId" json:"versionId"`
	SubmissionID string     `firestore:"submissionId" json:"submissionId"`
	Version      int        `firestore:"version" json:"version"`
	Snapshot     Submission `firestore:"snapshot" json:"snapshot"`
	ChangedBy    string     `firestore:"changedBy" json:"changedBy"`
	Timestamp    time.Time  `firestore:"timestamp" json:"timestamp"`
	ChangeType   ChangeType `firestore:"changeType" json:"changeType"`
}

// NewVersion snapshots cur before a change made by changedBy.
func NewVersion(versionID string, cur *Submission, changedBy string, changeType ChangeType, now time.Time) *Version {
	return &Version{
		VersionID:    versionID,
		SubmissionID: cur.ID,
		Version:      cur.Version,
		Snapshot:     *cur.Clone(),
		ChangedBy:    changedBy,
		Timestamp:    now,
		ChangeType:   changeType,
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
