package bulk

import (
	"regexp"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/store"
)

// DateLayout is the layout of the lastActiveDate filter.
const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ArchiveRequest asks for a set of submissions to be archived.
type ArchiveRequest struct {
	TargetIDs []string
	Filters   *domain.JobFilters
	Options   domain.JobOptions
}

// UpdateRequest asks for a status and/or metadata change on a set of submissions.
type UpdateRequest struct {
	TargetIDs []string
	Filters   *domain.JobFilters
	Updates   *domain.JobUpdates
	Options   domain.JobOptions
}

// TemplateDeleteRequest asks for a set of templates to be deleted.
type TemplateDeleteRequest struct {
	TemplateIDs []string
	Options     domain.JobOptions
}

func validateTargets(ids []string, filters *domain.JobFilters) error {
	if len(ids) == 0 && filters == nil {
		return domain.InvalidField("targetIds", "either targetIds or filters must be provided")
	}
	for _, id := range ids {
		if id == "" {
			return domain.InvalidField("targetIds", "target IDs must not be empty")
		}
	}
	if filters != nil {
		return validateFilters(filters)
	}
	return nil
}

func validateFilters(f *domain.JobFilters) error {
	if f.LastActiveDate != "" {
		if !datePattern.MatchString(f.LastActiveDate) {
			return domain.InvalidField("filters.lastActiveDate", "lastActiveDate must be in YYYY-MM-DD format")
		}
		if _, err := time.Parse(DateLayout, f.LastActiveDate); err != nil {
			return domain.InvalidField("filters.lastActiveDate", "lastActiveDate is not a valid date")
		}
	}
	for _, s := range f.Status {
		if !domain.SubmissionStatus(s).IsValid() {
			return domain.InvalidField("filters.status", "unknown status %q", s)
		}
	}
	return nil
}

// normalizeOptions fills the default batch size and rejects out-of-range values.
func normalizeOptions(opts *domain.JobOptions) error {
	if opts.BatchSize == 0 {
		opts.BatchSize = domain.DefaultBatchSize
	}
	if opts.BatchSize < 1 || opts.BatchSize > domain.MaxBatchSize {
		return domain.InvalidField("options.batchSize", "batchSize must be between 1 and %d", domain.MaxBatchSize)
	}
	return nil
}

func validateUpdates(u *domain.JobUpdates) error {
	if u == nil || (u.Status == "" && len(u.Metadata) == 0) {
		return domain.InvalidField("updates", "updates must include status or metadata")
	}
	if u.Status != "" && !u.Status.IsValid() {
		return domain.InvalidField("updates.status", "unknown status %q", u.Status)
	}
	return nil
}

// toBulkFilter converts job filters to a store query. lastActiveDate is
// inclusive of the whole day.
func toBulkFilter(f *domain.JobFilters) store.BulkFilter {
	bf := store.BulkFilter{
		Statuses:    f.Status,
		TemplateIDs: f.TemplateIDs,
		Metadata:    f.Metadata,
	}
	if f.LastActiveDate != "" {
		day, err := time.Parse(DateLayout, f.LastActiveDate)
		if err == nil {
			end := day.AddDate(0, 0, 1).Add(-time.Microsecond)
			bf.UpdatedBefore = &end
		}
	}
	return bf
}

// validateJob re-checks a persisted job before it is run.
func validateJob(job *domain.Job) error {
	if job.Options.BatchSize < 1 || job.Options.BatchSize > domain.MaxBatchSize {
		return domain.InvalidField("options.batchSize", "batchSize must be between 1 and %d", domain.MaxBatchSize)
	}
	switch job.Type {
	case domain.JobArchiveSubmissions, domain.JobDeleteTemplates:
	case domain.JobUpdateStatus, domain.JobUpdateMetadata:
		if err := validateUpdates(job.Updates); err != nil {
			return err
		}
	default:
		return domain.InvalidField("type", "unknown job type %q", job.Type)
	}
	if job.Progress.Total != len(job.TargetIDs) {
		return domain.InvalidArgument("job total %d does not match %d targets", job.Progress.Total, len(job.TargetIDs))
	}
	return nil
}
