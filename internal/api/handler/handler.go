package handler

import (
	"log/slog"

	"github.com/cuongbtq/questionnaire-be/internal/bulk"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/submission"
	"github.com/gin-gonic/gin"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Bulk        *bulk.Service
	Submissions *submission.Service
}

// BulkHandler handles bulk job HTTP requests
type BulkHandler struct {
	logger *slog.Logger
	bulk   *bulk.Service
}

// NewBulkHandler creates a new BulkHandler instance
func NewBulkHandler(deps *Dependencies) *BulkHandler {
	return &BulkHandler{
		logger: deps.Logger,
		bulk:   deps.Bulk,
	}
}

// SubmissionHandler handles submission HTTP requests
type SubmissionHandler struct {
	logger      *slog.Logger
	submissions *submission.Service
}

// NewSubmissionHandler creates a new SubmissionHandler instance
func NewSubmissionHandler(deps *Dependencies) *SubmissionHandler {
	return &SubmissionHandler{
		logger:      deps.Logger,
		submissions: deps.Submissions,
	}
}

const identityKey = "identity"

// SetIdentity stores the authenticated caller on the request context.
func SetIdentity(c *gin.Context, id domain.Identity) {
	c.Set(identityKey, id)
}

// IdentityFrom returns the caller stored by SetIdentity.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := v.(domain.Identity)
	return id, ok
}

func (h *BulkHandler) identity(c *gin.Context) (domain.Identity, bool) {
	return requireIdentity(c, h.logger)
}

func (h *SubmissionHandler) identity(c *gin.Context) (domain.Identity, bool) {
	return requireIdentity(c, h.logger)
}

func requireIdentity(c *gin.Context, logger *slog.Logger) (domain.Identity, bool) {
	id, ok := IdentityFrom(c)
	if !ok || id.UID == "" {
		WriteError(c, logger, domain.Unauthenticated("authentication required"))
		return domain.Identity{}, false
	}
	return id, true
}
